package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-pipeline/internal/capture"
	"github.com/sells-group/inbox-pipeline/internal/discover"
	"github.com/sells-group/inbox-pipeline/internal/enrich"
	"github.com/sells-group/inbox-pipeline/internal/model"
	"github.com/sells-group/inbox-pipeline/internal/pipeline"
	"github.com/sells-group/inbox-pipeline/internal/store"
	"github.com/sells-group/inbox-pipeline/internal/uploader"
	"github.com/sells-group/inbox-pipeline/pkg/airtable"
	anthropicpkg "github.com/sells-group/inbox-pipeline/pkg/anthropic"
	"github.com/sells-group/inbox-pipeline/pkg/perplexity"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "inbox.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// env bundles the wired pipeline and its store for command use.
type env struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Analyzer *enrich.Analyzer
	Searcher *discover.Searcher
}

func (e *env) Close() {
	_ = e.Store.Close()
}

// initEnv builds the store, clients, and stages. source may be nil for
// commands that only run enrichment stages; withUpload controls whether the
// Airtable sync adapter is required.
func initEnv(ctx context.Context, source capture.Source, withUpload bool) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if cfg.Anthropic.Key == "" {
		st.Close()
		return nil, eris.New("anthropic API key is required (INBOX_ANTHROPIC_KEY)")
	}
	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	if cfg.Perplexity.Key == "" {
		st.Close()
		return nil, eris.New("perplexity API key is required (INBOX_PERPLEXITY_KEY)")
	}
	searchClient := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model))

	analyzer := enrich.NewAnalyzer(st, aiClient, cfg.Anthropic.Model, cfg.Pipeline.AnalysisDelay)
	searcher := discover.NewSearcher(st, aiClient, searchClient, cfg.Anthropic.Model,
		cfg.Pipeline.SearchAttempts, cfg.Pipeline.SearchAttemptDelay, cfg.Pipeline.DiscoveryDelay)

	var uploaders map[model.Stream]*uploader.Uploader
	if withUpload {
		uploaders, err = initUploaders()
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	p := pipeline.New(st, source, analyzer, searcher, uploaders, pipeline.Options{
		SnapshotDir: cfg.Capture.SnapshotDir,
	})

	return &env{Store: st, Pipeline: p, Analyzer: analyzer, Searcher: searcher}, nil
}

func initUploaders() (map[model.Stream]*uploader.Uploader, error) {
	if cfg.Airtable.Key == "" || cfg.Airtable.BaseID == "" {
		return nil, eris.New("airtable credentials are required (INBOX_AIRTABLE_KEY, INBOX_AIRTABLE_BASE_ID)")
	}
	client := airtable.NewClient(cfg.Airtable.Key, cfg.Airtable.BaseID)

	out := make(map[model.Stream]*uploader.Uploader, 2)
	for _, s := range model.AllStreams() {
		out[s] = uploader.New(client, cfg.Airtable.Table(string(s)))
	}
	return out, nil
}

// parseStreams resolves the --stream flag. Empty means all streams.
func parseStreams(flag string) ([]model.Stream, error) {
	if flag == "" {
		return model.AllStreams(), nil
	}
	var out []model.Stream
	for _, part := range strings.Split(flag, ",") {
		s := model.Stream(strings.TrimSpace(part))
		if !s.Valid() {
			return nil, eris.Errorf("unknown stream %q (want %q or %q)",
				part, model.StreamMessages, model.StreamRequests)
		}
		out = append(out, s)
	}
	return out, nil
}
