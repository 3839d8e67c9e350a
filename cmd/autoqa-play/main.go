// Command autoqa-play replays a recorded session against a live browser
// (P6): it loads the session from the recordings directory, resolves
// each step through P2 (optionally H2), drives the browser via L1, and
// reports a single PlaybackResult.
//
// Grounded on gasoline-mcp's cmd/gasoline-cmd/main.go entrypoint shape and
// on cmd/vango's use of github.com/spf13/cobra for subcommand structure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brennhill/autoqa-engine/internal/config"
	"github.com/brennhill/autoqa-engine/internal/heal"
	"github.com/brennhill/autoqa-engine/internal/llmclient"
	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/player"
	"github.com/brennhill/autoqa-engine/internal/protocol"
	"github.com/brennhill/autoqa-engine/internal/session"
	"github.com/brennhill/autoqa-engine/internal/types"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cdpURL      string
		sessionID   string
		objectRepo  string
		logFormat   string
		healingFlag bool
	)

	cmd := &cobra.Command{
		Use:   "autoqa-play <session-id>",
		Short: "Replay a recorded session against a live browser (P6)",
		Args:  cobra.MaximumNArgs(1),
		Long: `autoqa-play loads a previously recorded session, connects to a
browser's debug endpoint, and replays every event in order, stopping at
the first step-level failure and collecting evidence for it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := sessionID
			if len(args) == 1 {
				id = args[0]
			}
			if id == "" {
				return fmt.Errorf("a session id is required, either as an argument or via --session-id")
			}
			return runPlay(cmd.Context(), cdpURL, id, objectRepo, logFormat, healingFlag)
		},
	}

	cmd.Flags().StringVar(&cdpURL, "cdp-url", "http://127.0.0.1:9222", "debug-protocol endpoint's HTTP origin to discover a page target on")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id to replay (alternative to the positional argument)")
	cmd.Flags().StringVar(&objectRepo, "object-repo", "", "path to a JSON array of TestObjects to resolve objectName references against")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	cmd.Flags().BoolVar(&healingFlag, "healing", false, "override player.healing.enabled for this run")

	return cmd
}

func runPlay(ctx context.Context, cdpURL, sessionID, objectRepoPath, logFormat string, healingOverride bool) error {
	logging.SetDefault(logging.New(logging.Options{Format: logging.Format(logFormat)}))

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining working directory: %w", err)
	}
	overrides := map[string]any{}
	if healingOverride {
		overrides["player.healing.enabled"] = true
	}
	cfg, warnings, err := config.Load(cwd, overrides)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "config warning: %s\n", w)
	}

	doc, err := session.Load(cfg.Recorder.OutputDir, sessionID)
	if err != nil {
		return fmt.Errorf("loading session %q: %w", sessionID, err)
	}

	var objRepo *types.ObjectRepository
	if objectRepoPath != "" {
		objRepo, err = loadObjectRepository(objectRepoPath)
		if err != nil {
			return err
		}
	}

	var llm *llmclient.Client
	if cfg.AI.LLMBaseURL != "" {
		llm = llmclient.New(llmclient.Options{
			BaseURL:     cfg.AI.LLMBaseURL,
			Model:       cfg.AI.LLMModel,
			Temperature: cfg.AI.LLMTemperature,
			MaxTokens:   cfg.AI.LLMMaxTokens,
			Timeout:     time.Duration(cfg.AI.LLMTimeoutSec) * time.Second,
			RetryCount:  uint64(cfg.AI.LLMRetryCount),
			RetryDelay:  time.Duration(cfg.AI.LLMRetryDelayMs) * time.Millisecond,
		})
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := protocol.ConnectViaDiscovery(sigCtx, cdpURL, protocol.Options{})
	if err != nil {
		return fmt.Errorf("connecting to debug endpoint: %w", err)
	}
	defer conn.Close()

	healCfg := heal.DefaultConfig()
	healCfg.DOMSnippetChars = cfg.AI.HealerDOMSnippetChars

	engine := player.NewEngine(conn, cfg.Player, healCfg, llm, objRepo)
	defer engine.Close()

	result, playErr := engine.Play(sigCtx, doc.Session, sessionID)
	if result != nil {
		fmt.Printf("steps completed: %d/%d\n", result.StepsCompleted, result.TotalSteps)
		if !result.Success {
			fmt.Printf("failure: %s\n", result.FailureReason)
			if result.EvidenceDir != "" {
				fmt.Printf("evidence: %s\n", result.EvidenceDir)
			}
		}
	}
	if playErr != nil {
		return fmt.Errorf("playback failed: %w", playErr)
	}
	return nil
}

func loadObjectRepository(path string) (*types.ObjectRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading object repository %q: %w", path, err)
	}
	var objects []types.TestObject
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, fmt.Errorf("parsing object repository %q: %w", path, err)
	}
	return types.NewObjectRepository(objects), nil
}
