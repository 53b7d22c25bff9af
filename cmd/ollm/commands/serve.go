package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencode-ai/opencode/internal/config"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/server"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/spf13/cobra"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the read-only session introspection API",
	Long: `Start a read-only HTTP server over the session store: GET
/sessions and GET /sessions/{id}. There is no route that starts a
turn, dispatches a tool, or mutates a session — that only happens
through "ollm run".`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}
	if _, err := config.Load(workDir); err != nil {
		return err
	}

	sessionStore, err := session.NewStore(paths.SessionDataPath())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	cfg := server.DefaultConfig()
	cfg.Port = servePort
	srv := server.New(cfg, sessionStore)

	go func() {
		logging.Info().
			Int("port", servePort).
			Str("url", fmt.Sprintf("http://127.0.0.1:%d/sessions", servePort)).
			Msg("session introspection server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down session introspection server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}
