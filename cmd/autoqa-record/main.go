// Command autoqa-record runs the recording side of the engine: it opens
// an L1 connector to a running browser's debug endpoint, starts an L3
// HTTP ingest listener for in-page instrumentation, and correlates
// incoming raw events into an M1 recording session until stopped.
//
// Grounded on gasoline-mcp's cmd/gasoline-cmd/main.go entrypoint shape
// (flag parsing, config cascade, exit codes) and on cmd/vango's use of
// github.com/spf13/cobra for subcommand structure, which this engine
// adopts in place of gasoline-mcp's own hand-rolled arg parser.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/brennhill/autoqa-engine/internal/config"
	"github.com/brennhill/autoqa-engine/internal/inputcapture"
	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/protocol"
	"github.com/brennhill/autoqa-engine/internal/recording"
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
		browserName string
		listenAddr  string
		sessionID   string
		logFormat   string
	)

	cmd := &cobra.Command{
		Use:   "autoqa-record",
		Short: "Record a browser session as a replayable test (M1)",
		Long: `autoqa-record connects to a browser's debug endpoint, listens for
captured interactions on a local HTTP ingest port, and writes the
resulting session to the configured recordings directory on SIGINT or
when the recording lock file is removed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd.Context(), cdpURL, browserName, listenAddr, sessionID, logFormat)
		},
	}

	cmd.Flags().StringVar(&cdpURL, "cdp-url", "http://127.0.0.1:9222", "debug-protocol endpoint's HTTP origin to discover a page target on")
	cmd.Flags().StringVar(&browserName, "browser", "chrome", "browser name recorded with the session")
	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7070", "address the L3 ingest endpoint listens on")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id to record under (default: a generated uuid)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")

	return cmd
}

func runRecord(ctx context.Context, cdpURL, browserName, listenAddr, sessionID, logFormat string) error {
	logging.SetDefault(logging.New(logging.Options{Format: logging.Format(logFormat)}))

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining working directory: %w", err)
	}
	cfg, warnings, err := config.Load(cwd, nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	for _, w := range warnings {
		logging.Warn(ctx, "config warning", "detail", w)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := protocol.ConnectViaDiscovery(ctx, cdpURL, protocol.Options{})
	if err != nil {
		return fmt.Errorf("connecting to debug endpoint: %w", err)
	}
	defer conn.Close()

	src := inputcapture.NewSource()
	mgr, err := recording.Start(cfg.Recorder, browserName, conn, src, sessionID)
	if err != nil {
		return fmt.Errorf("starting recording session: %w", err)
	}

	srv := &http.Server{Addr: listenAddr, Handler: src.Handler()}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
		}
	}()

	logging.Warn(ctx, "recording started", "sessionId", sessionID, "listen", listenAddr)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lockPath := config.RecordingLockPath(cfg.Recorder.OutputDir)
	externalStop := recording.WatchStopSignal(sigCtx, lockPath, time.Second)

	select {
	case <-sigCtx.Done():
	case <-externalStop:
	case err := <-srvErr:
		return fmt.Errorf("ingest listener: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	sess, path, err := mgr.Stop()
	if err != nil {
		return fmt.Errorf("finalizing recording: %w", err)
	}
	fmt.Printf("recorded %d events to %s\n", len(sess.Events), path)
	return nil
}
