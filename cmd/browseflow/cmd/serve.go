package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/browseflow/internal/logging"
	"github.com/randalmurphal/browseflow/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the websocket server",
	Long: `Start the browseflow server.

Each client connects to /ws/{session_id} and drives workflows with
system_event, user_input and browser_action messages. /health, /sessions,
/workflows/{id} and /metrics are served alongside.

Examples:
  # Start with defaults (0.0.0.0:8000)
  browseflow serve

  # Start on a custom port with sqlite checkpoints
  BROWSEFLOW_CHECKPOINT_BACKEND=sqlite browseflow serve --port 9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "host address to bind to")
	serveCmd.Flags().IntP("port", "p", 8000, "port to listen on")
	serveCmd.Flags().Bool("cors", true, "send CORS headers")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.enable_cors", serveCmd.Flags().Lookup("cors"))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	scfg := server.DefaultConfig()
	scfg.Host = cfg.Server.Host
	scfg.Port = cfg.Server.Port
	scfg.EnableCORS = cfg.Server.EnableCORS
	scfg.CORSOrigins = cfg.Server.CORSOrigins
	scfg.ActionTimeout = cfg.Workflow.ActionTimeout
	scfg.Version = appVersion

	srv, err := server.New(scfg, server.Deps{
		Manager:  a.manager,
		Sessions: a.sessions,
		Actions:  a.browser,
		Gatherer: a.registry,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
