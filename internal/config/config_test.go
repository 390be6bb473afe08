package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Session.MergePolicy != "replace" {
		t.Fatalf("expected replace merge policy, got %q", cfg.Session.MergePolicy)
	}
	if cfg.Extractor.TimeoutMS != 45000 {
		t.Fatalf("expected default extractor timeout, got %d", cfg.Extractor.TimeoutMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UDHAAR_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("UDHAAR_BUS_USERNAME", "alice")
	t.Setenv("UDHAAR_BUS_PASSWORD", "secret")
	t.Setenv("UDHAAR_CAPTURE_MODE", "exec")
	t.Setenv("UDHAAR_CAPTURE_COMMAND", "arecord -f S16_LE -r 16000 -c 1 -t raw")
	t.Setenv("UDHAAR_LOCAL_ASR_ENABLED", "true")
	t.Setenv("UDHAAR_EXTRACTOR_BASE_URL", "http://extractor:5000")
	t.Setenv("UDHAAR_EXTRACTOR_TIMEOUT_MS", "10000")
	t.Setenv("UDHAAR_SESSION_MERGE_POLICY", "prefer_filled")
	t.Setenv("UDHAAR_JOURNAL_PATH", "./tmp.db")
	t.Setenv("UDHAAR_JOURNAL_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Capture.Mode != "exec" {
		t.Fatalf("expected capture mode override")
	}
	if !cfg.LocalASR.Enabled {
		t.Fatalf("expected local asr enabled")
	}
	if cfg.Extractor.BaseURL != "http://extractor:5000" {
		t.Fatalf("expected extractor base url override")
	}
	if cfg.Extractor.TimeoutMS != 10000 {
		t.Fatalf("expected extractor timeout override, got %d", cfg.Extractor.TimeoutMS)
	}
	if cfg.Session.MergePolicy != "prefer_filled" {
		t.Fatalf("expected merge policy override")
	}
	if cfg.Journal.Path != "./tmp.db" {
		t.Fatalf("expected journal path override")
	}
	if cfg.Journal.RetentionMode != "persistent" {
		t.Fatalf("expected journal retention mode override")
	}
}

func TestValidateRejectsBadMergePolicy(t *testing.T) {
	t.Setenv("UDHAAR_SESSION_MERGE_POLICY", "sometimes")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for merge policy")
	}
}

func TestValidateRequiresExecCommand(t *testing.T) {
	t.Setenv("UDHAAR_CAPTURE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for missing capture command")
	}
}
