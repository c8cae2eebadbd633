package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/linkboard/internal/blob"
	"github.com/lazypower/linkboard/internal/config"
	"github.com/lazypower/linkboard/internal/metrics"
	"github.com/lazypower/linkboard/internal/persist"
	"github.com/lazypower/linkboard/internal/registry"
	"github.com/lazypower/linkboard/internal/store"
)

// stores is the opened two-tier storage plus the registry over it.
type stores struct {
	dataDir string
	db      *store.DB
	bin     *blob.Store
	mgr     *persist.Manager
	reg     *registry.Registry
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger, mets *metrics.Collector) (*stores, error) {
	dataDir := cfg.Storage.DataDir
	if dataDir == "" {
		var err error
		if dataDir, err = store.DefaultDataDir(); err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
	}

	db, err := store.Open(filepath.Join(dataDir, "linkboard.db"), cfg.Storage.MetadataQuota)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	bcfg := blob.DefaultConfig(filepath.Join(dataDir, "blobs"))
	bcfg.Logger = logger
	bin, err := blob.Open(bcfg)
	if err != nil {
		db.Close()
		// badger holds a directory lock while the server runs
		return nil, fmt.Errorf("open binary store (is the server running?): %w", err)
	}

	mgr := persist.New(store.Records{DB: db}, bin, persist.Options{
		BinaryWorkers: cfg.Persist.BinaryWorkers,
		Logger:        logger.Named("persist"),
		Metrics:       mets,
	})
	reg := registry.Open(ctx, mgr, registry.Options{
		Debounce: cfg.Persist.Debounce,
		Logger:   logger.Named("registry"),
	})
	return &stores{dataDir: dataDir, db: db, bin: bin, mgr: mgr, reg: reg}, nil
}

// Close saves the registry and closes both tiers.
func (s *stores) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// hydration reads from the binary tier; let it finish first
	_ = s.reg.WaitReady(ctx)
	err := s.reg.Close(ctx)
	if cerr := s.bin.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := s.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
