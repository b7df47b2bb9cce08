package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/esg-data/internal/blob"
	"github.com/sells-group/esg-data/internal/catalog"
	"github.com/sells-group/esg-data/internal/monitoring"
	"github.com/sells-group/esg-data/internal/records"
	"github.com/sells-group/esg-data/internal/store"
)

// appEnv holds the store, service and metrics shared by the commands.
type appEnv struct {
	Store   store.Store
	Service *records.Service
	Metrics *monitoring.Metrics
	Archive blob.Archive // may be nil
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates the config for mode, opens and migrates the store, and
// builds the record service. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	cat, err := loadCatalog()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	archive, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init upload archive")
	}

	metrics := monitoring.NewMetrics()
	opts := []records.Option{records.WithObserver(metrics)}
	if archive != nil {
		opts = append(opts, records.WithArchive(archive))
		zap.L().Info("archiving uploads", zap.String("driver", string(archive.Driver())))
	}

	return &appEnv{
		Store:   st,
		Service: records.New(st, cat, opts...),
		Metrics: metrics,
		Archive: archive,
	}, nil
}

func loadCatalog() (*catalog.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return catalog.LoadDefault()
	}
	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "load catalog %s", cfg.Catalog.Path)
	}
	return cat, nil
}
