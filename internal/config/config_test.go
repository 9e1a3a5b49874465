package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.RuntimeName != "elexico-runtime" {
		t.Fatalf("unexpected runtime name %q", cfg.RuntimeName)
	}
	if cfg.Synthesis.Locale != "en-IN" || cfg.Synthesis.VoiceProvider != "Google" {
		t.Fatalf("unexpected synthesis defaults: %+v", cfg.Synthesis)
	}
	if cfg.Synthesis.Rate != 0.92 || cfg.Synthesis.Pitch != 1.0 {
		t.Fatalf("unexpected prosody defaults: rate=%v pitch=%v", cfg.Synthesis.Rate, cfg.Synthesis.Pitch)
	}
	if cfg.Synthesis.ReplayDelayMS != 70 {
		t.Fatalf("unexpected replay delay %d", cfg.Synthesis.ReplayDelayMS)
	}
	if cfg.Synthesis.ResolveTimeoutMS != 2000 {
		t.Fatalf("unexpected resolve timeout %d", cfg.Synthesis.ResolveTimeoutMS)
	}
	if cfg.Gate.AccessCode != "2468" {
		t.Fatalf("unexpected gate code %q", cfg.Gate.AccessCode)
	}
	if !cfg.Bus.Embedded {
		t.Fatalf("expected embedded bus by default")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elexico.yaml")
	contents := `
runtime_name: deck-runtime
http:
  port: 9090
synthesis:
  locale: en-GB
  rate: 1.1
gate:
  access_code: "1357"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RuntimeName != "deck-runtime" {
		t.Fatalf("unexpected runtime name %q", cfg.RuntimeName)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("unexpected port %d", cfg.HTTP.Port)
	}
	if cfg.Synthesis.Locale != "en-GB" || cfg.Synthesis.Rate != 1.1 {
		t.Fatalf("unexpected synthesis overrides: %+v", cfg.Synthesis)
	}
	// Values the file does not set keep their defaults.
	if cfg.Synthesis.Pitch != 1.0 {
		t.Fatalf("pitch default lost: %v", cfg.Synthesis.Pitch)
	}
	if cfg.Gate.AccessCode != "1357" {
		t.Fatalf("unexpected gate code %q", cfg.Gate.AccessCode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ELEXICO_SYNTHESIS_LOCALE", "hi-IN")
	t.Setenv("ELEXICO_SYNTHESIS_RATE", "1.25")
	t.Setenv("ELEXICO_RECOGNITION_MODE", "off")
	t.Setenv("ELEXICO_GATE_ACCESS_CODE", "0000")
	t.Setenv("ELEXICO_HTTP_PORT", "8181")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with env overrides: %v", err)
	}
	if cfg.Synthesis.Locale != "hi-IN" {
		t.Fatalf("locale override lost: %q", cfg.Synthesis.Locale)
	}
	if cfg.Synthesis.Rate != 1.25 {
		t.Fatalf("rate override lost: %v", cfg.Synthesis.Rate)
	}
	if cfg.Recognition.Mode != "off" {
		t.Fatalf("recognition override lost: %q", cfg.Recognition.Mode)
	}
	if cfg.Gate.AccessCode != "0000" {
		t.Fatalf("gate override lost: %q", cfg.Gate.AccessCode)
	}
	if cfg.HTTP.Port != 8181 {
		t.Fatalf("port override lost: %d", cfg.HTTP.Port)
	}
}

func TestMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"short gate code", map[string]string{"ELEXICO_GATE_ACCESS_CODE": "24"}},
		{"non-numeric gate code", map[string]string{"ELEXICO_GATE_ACCESS_CODE": "abcd"}},
		{"bad synthesis mode", map[string]string{"ELEXICO_SYNTHESIS_MODE": "native"}},
		{"exec synthesis without command", map[string]string{"ELEXICO_SYNTHESIS_MODE": "exec"}},
		{"bad recognition mode", map[string]string{"ELEXICO_RECOGNITION_MODE": "browser"}},
		{"exec recognition without command", map[string]string{"ELEXICO_RECOGNITION_MODE": "exec"}},
		{"bad assistant mode", map[string]string{"ELEXICO_ASSISTANT_MODE": "grpc"}},
		{"zero rate", map[string]string{"ELEXICO_SYNTHESIS_RATE": "-1"}},
		{"heartbeat timeout below interval", map[string]string{"ELEXICO_NODE_HEARTBEAT_TIMEOUT_MS": "1000"}},
		{"bad retention mode", map[string]string{"ELEXICO_EVENT_STORE_RETENTION_MODE": "forever"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
