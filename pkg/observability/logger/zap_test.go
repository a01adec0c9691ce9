package logger

import "testing"

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParseLogLevel(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q): %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParseLogFormat(t *testing.T) {
	cases := []struct {
		input   string
		want    LogFormat
		wantErr bool
	}{
		{"json", JSONFormat, false},
		{"text", TextFormat, false},
		{"console", TextFormat, false},
		{"xml", "", true},
	}

	for _, tc := range cases {
		got, err := ParseLogFormat(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLogFormat(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogFormat(%q): %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLogFormat(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestZapLoggerWithChildCarriesFields(t *testing.T) {
	log, err := NewZapLogger(Config{Level: DebugLevel, Format: TextFormat})
	if err != nil {
		t.Fatalf("new zap logger: %v", err)
	}

	child := log.With("component", "test")
	if child == nil {
		t.Fatal("expected non-nil child logger")
	}
	// Smoke: all levels must be callable without panicking.
	child.Debug("debug message", "key", "value")
	child.Info("info message")
	child.Warn("warn message")
	child.Error("error message")
}

func TestNopLoggerIsSafe(t *testing.T) {
	log := Nop()
	log.Debug("ignored")
	log.With("k", "v").Error("ignored")
}

func TestNewZapLoggerDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != InfoLevel || cfg.Format != JSONFormat {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	log, err := NewZapLogger(cfg)
	if err != nil {
		t.Fatalf("new zap logger: %v", err)
	}
	log.Info("default config logger")
}
