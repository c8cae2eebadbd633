package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/linkboard/internal/board"
	"github.com/lazypower/linkboard/internal/engine"
	"github.com/lazypower/linkboard/internal/graph"
	"github.com/lazypower/linkboard/internal/llm"
	"github.com/lazypower/linkboard/internal/logging"
	"github.com/lazypower/linkboard/internal/metrics"
	"github.com/lazypower/linkboard/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

// unavailableFinder fails every analysis with the reason the model could
// not be configured, so the layers surface it as their error state.
type unavailableFinder struct{ err error }

func (f unavailableFinder) FindConnections(context.Context, engine.Request) ([]graph.Connection, error) {
	return nil, f.err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logging.Sync(logger)

	mets := metrics.New("linkboard")

	st, err := openStores(context.Background(), cfg, logger, mets)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("close stores", zap.Error(err))
		}
	}()

	opts := engine.Options{
		Policy:       board.Policy{Placeholders: cfg.Analysis.Placeholders},
		ErrorDisplay: cfg.Analysis.ErrorDisplay,
		Timeout:      cfg.Analysis.Timeout,
		Logger:       logger.Named("analysis"),
		Metrics:      mets,
	}
	var ctrl *engine.Controller
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		logger.Warn("llm not configured, analysis disabled", zap.Error(err))
		ctrl = engine.NewController(st.reg, unavailableFinder{err: fmt.Errorf("llm not configured: %w", err)}, opts)
	} else {
		ctrl = engine.NewLLMController(st.reg, client, opts)
		logger.Info("llm configured", zap.String("provider", cfg.LLM.Provider), zap.String("model", cfg.LLM.Model))
	}

	srv := server.New(st.reg, ctrl, server.Options{
		Version: VersionString(),
		Logger:  logger.Named("http"),
		Metrics: mets,
		Checks: map[string]func() error{
			"metadata": st.db.Ping,
			"binary":   st.bin.Ping,
		},
	})

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		logger.Info("linkboard serving", zap.String("addr", addr), zap.String("data_dir", st.dataDir))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-done:
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
