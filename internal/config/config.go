package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the frozen configuration snapshot loaded once at process start.
// Runtime changes are not observed mid-run (§9 "Config loading").
// Unknown keys are tolerated; malformed numeric values fall back to the
// default and are logged by the caller.
type Config struct {
	Recorder RecorderConfig `mapstructure:"recorder"`
	Player   PlayerConfig   `mapstructure:"player"`
	AI       AIConfig       `mapstructure:"ai"`
}

// RecorderConfig holds recorder.* keys (§6).
type RecorderConfig struct {
	OutputDir       string   `mapstructure:"output.dir"`
	SessionPrefix   string   `mapstructure:"session.prefix"`
	RedactTypes     []string `mapstructure:"redact.types"`
	RedactSelectors []string `mapstructure:"redact.selectors"`
	CDPPort         int      `mapstructure:"cdp.port"`
	CDPWSTimeoutSec int      `mapstructure:"cdp.ws.timeout.sec"`
	URLWhitelist    string   `mapstructure:"url.whitelist"`
}

// PlayerConfig holds player.* keys (§6).
type PlayerConfig struct {
	ExplicitWaitSec        int    `mapstructure:"explicit.wait.sec"`
	PageLoadTimeoutSec     int    `mapstructure:"page.load.timeout.sec"`
	StepDelayMs            int    `mapstructure:"step.delay.ms"`
	EvidenceDir            string `mapstructure:"evidence.dir"`
	LocatorFallbackAttempts int   `mapstructure:"locator.fallback.attempts"`
	ScreenshotOnFailure    bool   `mapstructure:"screenshot.on.failure"`
	PageSourceOnFailure    bool   `mapstructure:"page.source.on.failure"`
	ConsoleLogsOnFailure   bool   `mapstructure:"console.logs.on.failure"`
	HealingEnabled         bool   `mapstructure:"healing.enabled"`
}

// AIConfig holds ai.* keys (§6).
type AIConfig struct {
	LLMBaseURL        string  `mapstructure:"llm.base.url"`
	LLMModel          string  `mapstructure:"llm.model"`
	LLMTemperature    float64 `mapstructure:"llm.temperature"`
	LLMMaxTokens      int     `mapstructure:"llm.max.tokens"`
	LLMTimeoutSec     int     `mapstructure:"llm.timeout.sec"`
	LLMRetryCount     int     `mapstructure:"llm.retry.count"`
	LLMRetryDelayMs   int     `mapstructure:"llm.retry.delay.ms"`
	HealerDOMSnippetChars int `mapstructure:"healer.dom.snippet.chars"`
}

// ExplicitWait returns player.explicit.wait.sec as a time.Duration.
func (p PlayerConfig) ExplicitWait() time.Duration {
	return time.Duration(p.ExplicitWaitSec) * time.Second
}

// PageLoadTimeout returns player.page.load.timeout.sec as a time.Duration.
func (p PlayerConfig) PageLoadTimeout() time.Duration {
	return time.Duration(p.PageLoadTimeoutSec) * time.Second
}

// StepDelay returns player.step.delay.ms as a time.Duration.
func (p PlayerConfig) StepDelay() time.Duration {
	return time.Duration(p.StepDelayMs) * time.Millisecond
}

// Defaults returns the base configuration, matching the table in §6.
func Defaults() Config {
	return Config{
		Recorder: RecorderConfig{
			OutputDir:       "recordings",
			SessionPrefix:   "recording",
			RedactTypes:     []string{"password"},
			RedactSelectors: nil,
			CDPPort:         9222,
			CDPWSTimeoutSec: 10,
			URLWhitelist:    "",
		},
		Player: PlayerConfig{
			ExplicitWaitSec:         15,
			PageLoadTimeoutSec:      30,
			StepDelayMs:             300,
			EvidenceDir:             "evidence",
			LocatorFallbackAttempts: 3,
			ScreenshotOnFailure:     true,
			PageSourceOnFailure:     true,
			ConsoleLogsOnFailure:    true,
			HealingEnabled:          false,
		},
		AI: AIConfig{
			LLMModel:              "gpt-4o-mini",
			LLMTemperature:        0.0,
			LLMMaxTokens:          512,
			LLMTimeoutSec:         20,
			LLMRetryCount:         2,
			LLMRetryDelayMs:       500,
			HealerDOMSnippetChars: 3000,
		},
	}
}

// Load builds the final configuration by applying the priority cascade:
// defaults < global (~/.autoqa/config.yaml) < project (.autoqa.yaml) <
// env vars (AUTOQA_*) < explicit overrides, generalizing gasoline-mcp's own
// cascade (cmd/gasoline-cmd/config/loader.go) with viper so the format and
// key set described in §6 can be bound without a hand-rolled reader.
func Load(projectDir string, overrides map[string]any) (Config, []string, error) {
	var warnings []string
	v := viper.New()
	v.SetConfigType("yaml")

	def := Defaults()
	setDefaults(v, def)

	if home, err := os.UserHomeDir(); err == nil {
		globalPath := filepath.Join(home, ".autoqa", "config.yaml")
		if data, readErr := os.ReadFile(globalPath); readErr == nil {
			if mergeErr := v.MergeConfig(strings.NewReader(string(data))); mergeErr != nil {
				warnings = append(warnings, fmt.Sprintf("malformed global config %s: %v", globalPath, mergeErr))
			}
		}
	}

	if projectDir != "" {
		projectPath := filepath.Join(projectDir, ".autoqa.yaml")
		if data, readErr := os.ReadFile(projectPath); readErr == nil {
			if mergeErr := v.MergeConfig(strings.NewReader(string(data))); mergeErr != nil {
				warnings = append(warnings, fmt.Sprintf("malformed project config %s: %v", projectPath, mergeErr))
			}
		}
	}

	v.SetEnvPrefix("AUTOQA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for k, val := range overrides {
		v.Set(k, val)
	}

	cfg := Config{
		Recorder: RecorderConfig{
			OutputDir:       v.GetString("recorder.output.dir"),
			SessionPrefix:   v.GetString("recorder.session.prefix"),
			RedactTypes:     v.GetStringSlice("recorder.redact.types"),
			RedactSelectors: v.GetStringSlice("recorder.redact.selectors"),
			CDPPort:         v.GetInt("recorder.cdp.port"),
			CDPWSTimeoutSec: v.GetInt("recorder.cdp.ws.timeout.sec"),
			URLWhitelist:    v.GetString("recorder.url.whitelist"),
		},
		Player: PlayerConfig{
			ExplicitWaitSec:         v.GetInt("player.explicit.wait.sec"),
			PageLoadTimeoutSec:      v.GetInt("player.page.load.timeout.sec"),
			StepDelayMs:             v.GetInt("player.step.delay.ms"),
			EvidenceDir:             v.GetString("player.evidence.dir"),
			LocatorFallbackAttempts: v.GetInt("player.locator.fallback.attempts"),
			ScreenshotOnFailure:     v.GetBool("player.screenshot.on.failure"),
			PageSourceOnFailure:     v.GetBool("player.page.source.on.failure"),
			ConsoleLogsOnFailure:    v.GetBool("player.console.logs.on.failure"),
			HealingEnabled:          v.GetBool("player.healing.enabled"),
		},
		AI: AIConfig{
			LLMBaseURL:            v.GetString("ai.llm.base.url"),
			LLMModel:              v.GetString("ai.llm.model"),
			LLMTemperature:        v.GetFloat64("ai.llm.temperature"),
			LLMMaxTokens:          v.GetInt("ai.llm.max.tokens"),
			LLMTimeoutSec:         v.GetInt("ai.llm.timeout.sec"),
			LLMRetryCount:         v.GetInt("ai.llm.retry.count"),
			LLMRetryDelayMs:       v.GetInt("ai.llm.retry.delay.ms"),
			HealerDOMSnippetChars: v.GetInt("ai.healer.dom.snippet.chars"),
		},
	}

	cfg, moreWarnings := sanitize(cfg, def)
	warnings = append(warnings, moreWarnings...)
	return cfg, warnings, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("recorder.output.dir", def.Recorder.OutputDir)
	v.SetDefault("recorder.session.prefix", def.Recorder.SessionPrefix)
	v.SetDefault("recorder.redact.types", def.Recorder.RedactTypes)
	v.SetDefault("recorder.redact.selectors", def.Recorder.RedactSelectors)
	v.SetDefault("recorder.cdp.port", def.Recorder.CDPPort)
	v.SetDefault("recorder.cdp.ws.timeout.sec", def.Recorder.CDPWSTimeoutSec)
	v.SetDefault("recorder.url.whitelist", def.Recorder.URLWhitelist)

	v.SetDefault("player.explicit.wait.sec", def.Player.ExplicitWaitSec)
	v.SetDefault("player.page.load.timeout.sec", def.Player.PageLoadTimeoutSec)
	v.SetDefault("player.step.delay.ms", def.Player.StepDelayMs)
	v.SetDefault("player.evidence.dir", def.Player.EvidenceDir)
	v.SetDefault("player.locator.fallback.attempts", def.Player.LocatorFallbackAttempts)
	v.SetDefault("player.screenshot.on.failure", def.Player.ScreenshotOnFailure)
	v.SetDefault("player.page.source.on.failure", def.Player.PageSourceOnFailure)
	v.SetDefault("player.console.logs.on.failure", def.Player.ConsoleLogsOnFailure)
	v.SetDefault("player.healing.enabled", def.Player.HealingEnabled)

	v.SetDefault("ai.llm.base.url", def.AI.LLMBaseURL)
	v.SetDefault("ai.llm.model", def.AI.LLMModel)
	v.SetDefault("ai.llm.temperature", def.AI.LLMTemperature)
	v.SetDefault("ai.llm.max.tokens", def.AI.LLMMaxTokens)
	v.SetDefault("ai.llm.timeout.sec", def.AI.LLMTimeoutSec)
	v.SetDefault("ai.llm.retry.count", def.AI.LLMRetryCount)
	v.SetDefault("ai.llm.retry.delay.ms", def.AI.LLMRetryDelayMs)
	v.SetDefault("ai.healer.dom.snippet.chars", def.AI.HealerDOMSnippetChars)
}

// sanitize replaces non-positive numeric fields that must be positive with
// their defaults, returning human-readable warnings for each substitution
// (§9: "malformed numeric values log a warning and use the default").
func sanitize(cfg, def Config) (Config, []string) {
	var warnings []string
	fix := func(name string, cur *int, defVal int) {
		if *cur <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s: invalid value %d, using default %d", name, *cur, defVal))
			*cur = defVal
		}
	}
	fix("recorder.cdp.port", &cfg.Recorder.CDPPort, def.Recorder.CDPPort)
	fix("recorder.cdp.ws.timeout.sec", &cfg.Recorder.CDPWSTimeoutSec, def.Recorder.CDPWSTimeoutSec)
	fix("player.explicit.wait.sec", &cfg.Player.ExplicitWaitSec, def.Player.ExplicitWaitSec)
	fix("player.page.load.timeout.sec", &cfg.Player.PageLoadTimeoutSec, def.Player.PageLoadTimeoutSec)
	fix("player.locator.fallback.attempts", &cfg.Player.LocatorFallbackAttempts, def.Player.LocatorFallbackAttempts)
	if cfg.Player.StepDelayMs < 0 {
		warnings = append(warnings, fmt.Sprintf("player.step.delay.ms: invalid value %d, using default %d", cfg.Player.StepDelayMs, def.Player.StepDelayMs))
		cfg.Player.StepDelayMs = def.Player.StepDelayMs
	}
	fix("ai.llm.max.tokens", &cfg.AI.LLMMaxTokens, def.AI.LLMMaxTokens)
	fix("ai.llm.timeout.sec", &cfg.AI.LLMTimeoutSec, def.AI.LLMTimeoutSec)
	if cfg.AI.LLMRetryCount < 0 {
		warnings = append(warnings, fmt.Sprintf("ai.llm.retry.count: invalid value %d, using default %d", cfg.AI.LLMRetryCount, def.AI.LLMRetryCount))
		cfg.AI.LLMRetryCount = def.AI.LLMRetryCount
	}
	fix("ai.healer.dom.snippet.chars", &cfg.AI.HealerDOMSnippetChars, def.AI.HealerDOMSnippetChars)
	return cfg, warnings
}
