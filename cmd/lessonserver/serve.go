package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	lesson "lesson_server"
	"lesson_server/internal/config"
	"lesson_server/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lesson server",
	Long: `Start an HTTP/1.1 server answering every request with the selected lesson.

Settings come from flags, LESSON_* environment variables (LESSON_ADDR,
LESSON_LOG_LEVEL, ...) and an optional config file, in that order of precedence.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	d := config.DefaultConfig()
	f := serveCmd.Flags()
	f.StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	f.String("addr", d.Addr, "Address to listen on")
	f.String("network", d.Network, "Network to listen on: tcp, tcp4, tcp6 or unix")
	f.String("lesson", d.Lesson, "Lesson to serve (see 'lessonserver lessons')")
	f.Bool("status-ok", d.StatusOK, "Condition of the status lesson: true answers 200, false 400")
	f.Duration("read-header-timeout", d.ReadHeaderTimeout, "Time allowed to read request headers")
	f.Duration("read-timeout", d.ReadTimeout, "Time allowed to read a whole request, 0 for none")
	f.Duration("write-timeout", d.WriteTimeout, "Time allowed to write a response, 0 for none")
	f.Duration("idle-timeout", d.IdleTimeout, "Keep-alive idle time")
	f.Int("max-header-bytes", d.MaxHeaderBytes, "Maximum size of request line and headers")
	f.Int64("max-body-bytes", d.MaxBodyBytes, "Maximum request body a lesson reads")
	f.String("log-level", d.Log.Level, "Log level: debug, info, warn or error")
	f.String("log-format", d.Log.Format, "Log format: console or json")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	f := cmd.Flags()
	for _, key := range []string{
		"addr", "network", "lesson", "status-ok",
		"read-header-timeout", "read-timeout", "write-timeout", "idle-timeout",
		"max-header-bytes", "max-body-bytes",
	} {
		if err := v.BindPFlag(key, f.Lookup(key)); err != nil {
			return nil, err
		}
	}
	if err := v.BindPFlag("log.level", f.Lookup("log-level")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("log.format", f.Lookup("log-format")); err != nil {
		return nil, err
	}
	return config.Load(v, configFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Log.Format),
		Level:  cfg.Log.Level,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	srv, err := cfg.Server()
	if err != nil {
		return err
	}
	srv.Logger = &logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("network", cfg.Network).
			Str("addr", cfg.Addr).
			Str("lesson", cfg.Lesson).
			Msg("lesson server listening")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, lesson.ErrServerClosed) {
			return nil
		}
		logger.Error().Err(err).Msg("server error")
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
		return err
	}
	logger.Info().Msg("server stopped gracefully")
	return nil
}
