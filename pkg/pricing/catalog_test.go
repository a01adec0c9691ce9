package pricing

import (
	"errors"
	"math"
	"testing"
	"time"
)

func validCatalog() *Catalog {
	return &Catalog{
		Models: map[string]ModelPrice{
			"modelA": {Prompt: 0.002, Completion: 0.004, Currency: "USD"},
			"modelB": {Prompt: 0.01, Completion: 0.03},
		},
		FetchedAt: time.Now().UTC(),
	}
}

func TestCatalogValidate(t *testing.T) {
	tests := []struct {
		name    string
		catalog *Catalog
		wantErr bool
	}{
		{name: "valid", catalog: validCatalog(), wantErr: false},
		{name: "nil catalog", catalog: nil, wantErr: true},
		{name: "empty models", catalog: &Catalog{Models: map[string]ModelPrice{}}, wantErr: true},
		{
			name:    "blank model name",
			catalog: &Catalog{Models: map[string]ModelPrice{"  ": {Prompt: 0.1}}},
			wantErr: true,
		},
		{
			name:    "negative price",
			catalog: &Catalog{Models: map[string]ModelPrice{"m": {Prompt: -0.1}}},
			wantErr: true,
		},
		{
			name:    "nan price",
			catalog: &Catalog{Models: map[string]ModelPrice{"m": {Completion: math.NaN()}}},
			wantErr: true,
		},
		{
			name:    "infinite price",
			catalog: &Catalog{Models: map[string]ModelPrice{"m": {Prompt: math.Inf(1)}}},
			wantErr: true,
		},
		{
			name:    "zero price is allowed",
			catalog: &Catalog{Models: map[string]ModelPrice{"free-model": {}}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected valid catalog, got %v", err)
			}
		})
	}
}

func TestCatalogEqual(t *testing.T) {
	base := validCatalog()

	same := base.Clone()
	same.FetchedAt = base.FetchedAt.Add(time.Hour)
	if !base.Equal(same) {
		t.Error("expected catalogs with same prices to be equal regardless of FetchedAt")
	}

	changed := base.Clone()
	changed.Models["modelA"] = ModelPrice{Prompt: 0.003, Completion: 0.004, Currency: "USD"}
	if base.Equal(changed) {
		t.Error("expected catalogs with different prices to differ")
	}

	extra := base.Clone()
	extra.Models["modelC"] = ModelPrice{Prompt: 0.1}
	if base.Equal(extra) {
		t.Error("expected catalogs with different model sets to differ")
	}

	var nilCatalog *Catalog
	if base.Equal(nilCatalog) || nilCatalog.Equal(base) {
		t.Error("expected nil and non-nil catalogs to differ")
	}
	if !nilCatalog.Equal(nil) {
		t.Error("expected two nil catalogs to be equal")
	}
}

func TestCatalogClone(t *testing.T) {
	base := validCatalog()
	clone := base.Clone()

	clone.Models["modelA"] = ModelPrice{Prompt: 99}
	if base.Models["modelA"].Prompt == 99 {
		t.Error("mutating the clone changed the original")
	}

	var nilCatalog *Catalog
	if nilCatalog.Clone() != nil {
		t.Error("expected nil clone for nil catalog")
	}
}
