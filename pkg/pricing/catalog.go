// Package pricing defines the model price catalog and the executor that
// fetches it from the remote source. The executor contains all network side
// effects; it knows nothing about locks or caching.
package pricing

import (
	"math"
	"strings"
	"time"
)

// ModelPrice holds per-1K-token prices for a single model.
type ModelPrice struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
	Currency   string  `json:"currency,omitempty"`
}

// Catalog is the output of one successful refresh.
type Catalog struct {
	Models    map[string]ModelPrice `json:"models"`
	FetchedAt time.Time             `json:"fetched_at"`
}

// Validate rejects catalogs that would poison the shared cache.
func (c *Catalog) Validate() error {
	if c == nil {
		return pricingError(ErrInvalidPayload, "catalog is nil")
	}
	if len(c.Models) == 0 {
		return pricingError(ErrInvalidPayload, "catalog has no models")
	}
	for name, price := range c.Models {
		if strings.TrimSpace(name) == "" {
			return pricingError(ErrInvalidPayload, "blank model name")
		}
		if price.Prompt < 0 || price.Completion < 0 {
			return pricingError(ErrInvalidPayload, "negative price for model "+name)
		}
		if math.IsNaN(price.Prompt) || math.IsInf(price.Prompt, 0) ||
			math.IsNaN(price.Completion) || math.IsInf(price.Completion, 0) {
			return pricingError(ErrInvalidPayload, "non-finite price for model "+name)
		}
	}
	return nil
}

// Equal reports whether two catalogs carry the same prices, ignoring
// FetchedAt. Two refreshes of the same remote data are equal in this sense.
func (c *Catalog) Equal(other *Catalog) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.Models) != len(other.Models) {
		return false
	}
	for name, price := range c.Models {
		otherPrice, exists := other.Models[name]
		if !exists || price != otherPrice {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so cached state cannot be mutated by callers.
func (c *Catalog) Clone() *Catalog {
	if c == nil {
		return nil
	}
	models := make(map[string]ModelPrice, len(c.Models))
	for name, price := range c.Models {
		models[name] = price
	}
	return &Catalog{Models: models, FetchedAt: c.FetchedAt}
}
