// config_test.go — Tests for the configuration loading cascade.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := Defaults()

	if cfg.Recorder.CDPPort != 9222 {
		t.Errorf("expected default cdp port 9222, got %d", cfg.Recorder.CDPPort)
	}
	if cfg.Player.ExplicitWaitSec != 15 {
		t.Errorf("expected default explicit wait 15, got %d", cfg.Player.ExplicitWaitSec)
	}
	if cfg.Player.StepDelayMs != 300 {
		t.Errorf("expected default step delay 300ms, got %d", cfg.Player.StepDelayMs)
	}
	if cfg.Player.HealingEnabled {
		t.Error("expected healing disabled by default")
	}
	if len(cfg.Recorder.RedactTypes) != 1 || cfg.Recorder.RedactTypes[0] != "password" {
		t.Errorf("expected default redact types [password], got %v", cfg.Recorder.RedactTypes)
	}
}

func TestLoadProjectConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	configPath := filepath.Join(dir, ".autoqa.yaml")
	contents := "recorder:\n  cdp:\n    port: 9333\nplayer:\n  step:\n    delay:\n      ms: 50\n  healing:\n    enabled: true\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, warnings, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	if cfg.Recorder.CDPPort != 9333 {
		t.Errorf("expected cdp port 9333, got %d", cfg.Recorder.CDPPort)
	}
	if cfg.Player.StepDelayMs != 50 {
		t.Errorf("expected step delay 50, got %d", cfg.Player.StepDelayMs)
	}
	if !cfg.Player.HealingEnabled {
		t.Error("expected healing enabled from project config")
	}
	// Unrelated defaults survive untouched.
	if cfg.Player.ExplicitWaitSec != 15 {
		t.Errorf("expected unrelated default to survive, got %d", cfg.Player.ExplicitWaitSec)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUTOQA_RECORDER_CDP_PORT", "9400")

	cfg, _, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Recorder.CDPPort != 9400 {
		t.Errorf("expected env override to set cdp port 9400, got %d", cfg.Recorder.CDPPort)
	}
}

func TestLoadExplicitOverrideWins(t *testing.T) {
	dir := t.TempDir()
	cfg, _, err := Load(dir, map[string]any{"recorder.cdp.port": 9500})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Recorder.CDPPort != 9500 {
		t.Errorf("expected explicit override 9500, got %d", cfg.Recorder.CDPPort)
	}
}

func TestSanitizeRejectsNonPositive(t *testing.T) {
	t.Parallel()
	def := Defaults()
	bad := def
	bad.Recorder.CDPPort = -1
	bad.Player.ExplicitWaitSec = 0

	fixed, warnings := sanitize(bad, def)
	if fixed.Recorder.CDPPort != def.Recorder.CDPPort {
		t.Errorf("expected cdp port reset to default, got %d", fixed.Recorder.CDPPort)
	}
	if fixed.Player.ExplicitWaitSec != def.Player.ExplicitWaitSec {
		t.Errorf("expected explicit wait reset to default, got %d", fixed.Player.ExplicitWaitSec)
	}
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings, got %d: %v", len(warnings), warnings)
	}
}
