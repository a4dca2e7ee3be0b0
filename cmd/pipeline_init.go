package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/karibu-capital/greenscore-cli/internal/baseline"
	"github.com/karibu-capital/greenscore-cli/internal/blob"
	"github.com/karibu-capital/greenscore-cli/internal/engine"
	"github.com/karibu-capital/greenscore-cli/internal/pipeline"
	"github.com/karibu-capital/greenscore-cli/internal/store"
)

// pipelineEnv holds the initialized store, collaborators, and pipeline
// shared by the serve/worker/submit/review commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, blob storage, baseline dataset, and the
// extraction engine, and builds the Pipeline. Callers should defer
// env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	blobs, err := blob.NewFSStore(cfg.Blob.Dir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	baselines, err := baseline.LoadFile(cfg.Baseline.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &pipelineEnv{
		Store:    st,
		Pipeline: pipeline.New(cfg, st, blobs, baselines, eng),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "greenscore.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
