package telemetry

import "testing"

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")

	cfg := LoadFromEnv()
	if cfg.Enabled {
		t.Error("telemetry should be disabled by default")
	}
	if cfg.ServiceName != "memexport" {
		t.Errorf("ServiceName = %q, want memexport", cfg.ServiceName)
	}
	if cfg.Protocol != "grpc" {
		t.Errorf("Protocol = %q, want grpc", cfg.Protocol)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "TRUE")
	t.Setenv("OTEL_SERVICE_NAME", "exporter-test")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Bearer abc=def, X-Env=prod")

	cfg := LoadFromEnv()
	if !cfg.Enabled {
		t.Error("OTEL_ENABLED=TRUE should enable telemetry")
	}
	if cfg.ServiceName != "exporter-test" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.Headers["Authorization"] != "Bearer abc=def" {
		t.Errorf("Headers = %v, values may contain '='", cfg.Headers)
	}
	if cfg.Headers["X-Env"] != "prod" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
}

func TestParseRatio(t *testing.T) {
	cases := map[string]float64{
		"":     1.0,
		"0.25": 0.25,
		"-1":   0,
		"7":    1.0,
		"junk": 1.0,
	}
	for in, want := range cases {
		if got := parseRatio(in); got != want {
			t.Errorf("parseRatio(%q) = %v, want %v", in, got, want)
		}
	}
}
