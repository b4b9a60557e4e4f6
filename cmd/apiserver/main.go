// Command apiserver exposes the job queue and query pipeline over HTTP:
// the "API mode" surface spec.md §6 describes (POST /register,
// GET/DELETE /job/{id}, POST /query). One collection, one repository per
// process; running several collections means running several processes,
// matching spec.md §5's "multiple independent host processes may query
// concurrently" process model.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jsbattig/code-indexer-sub009/internal/cache"
	"github.com/jsbattig/code-indexer-sub009/internal/config"
	"github.com/jsbattig/code-indexer-sub009/internal/gitrepo"
	"github.com/jsbattig/code-indexer-sub009/internal/jobqueue"
	"github.com/jsbattig/code-indexer-sub009/internal/logging"
	"github.com/jsbattig/code-indexer-sub009/internal/materialize"
	"github.com/jsbattig/code-indexer-sub009/internal/metrics"
	"github.com/jsbattig/code-indexer-sub009/internal/projection"
	"github.com/jsbattig/code-indexer-sub009/internal/query"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
	"github.com/jsbattig/code-indexer-sub009/internal/temporal"
	"github.com/jsbattig/code-indexer-sub009/internal/warn"
)

// noopEmbedder satisfies query.Embedder / temporal.Embedder without a
// real provider wired in — registering an embedding provider is one of
// the narrow external contracts this engine consumes but does not
// implement (spec.md §1).
type noopEmbedder struct{ dims int }

func (e noopEmbedder) Embed(text string) ([]float32, error) {
	return nil, fmt.Errorf("no embedding provider configured; apiserver requires Pipeline.Embedder to be set by the embedding caller")
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8089", "address to listen on")
	collectionDir := flag.String("collection", "", "path to the collection directory")
	repoPath := flag.String("repo", "", "path to the git repository backing this collection")
	temporalDir := flag.String("temporal-dir", "", "path to the temporal index directory (commits.db/blob_registry.db); empty disables temporal queries")
	configDir := flag.String("config-dir", ".", "directory to load project config from")
	flag.Parse()

	if *collectionDir == "" {
		fmt.Fprintln(os.Stderr, "apiserver: -collection is required")
		os.Exit(1)
	}

	logger, cleanup, err := logging.Setup(logging.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg, err := config.Load(*configDir)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	coll, err := store.Open(*collectionDir, cfg.Collection)
	if err != nil {
		logger.Error("failed to open collection", "error", err)
		os.Exit(1)
	}
	coll.SetProjector(projection.NewClient(projection.ClientConfig{
		HealthProbeTimeout: cfg.Projection.HealthProbeTimeout,
		StartupBackoff:     cfg.Projection.StartupBackoff,
		RequestTimeout:     cfg.Projection.RequestTimeout,
	}, warn.Default()))

	var repo *gitrepo.Repo
	if *repoPath != "" {
		repo, err = gitrepo.Open(*repoPath)
		if err != nil {
			logger.Error("failed to open git repository", "error", err)
			os.Exit(1)
		}
	}

	fs, err := store.OpenStore(coll, repo)
	if err != nil {
		logger.Error("failed to open vector store", "error", err)
		os.Exit(1)
	}

	entryCache, err := cache.New(cfg.Projection.CacheSize, func(dir string) (*cache.Entry, error) {
		fp, err := store.StatFingerprint(store.MetaPath(dir))
		if err != nil {
			return nil, err
		}
		hnsw, err := store.LoadHNSWIndex(coll.HNSWPath(), cfg.Collection.HNSWM, cfg.Collection.EfSearch(cfg.Accuracy))
		if err != nil {
			return nil, err
		}
		ids, err := store.LoadIDIndex(coll.IDIndexPath())
		if err != nil {
			return nil, err
		}
		return &cache.Entry{Fingerprint: fp, HNSW: hnsw, IDs: ids}, nil
	})
	if err != nil {
		logger.Error("failed to build index cache", "error", err)
		os.Exit(1)
	}

	var hnsw *store.HNSWIndex
	if entry, err := entryCache.Get(*collectionDir); err == nil {
		hnsw = entry.HNSW
		fs.IDs = entry.IDs
	} else {
		logger.Warn("no HNSW graph available yet, falling back to path-quantized search", "error", err)
	}

	searcher := store.NewSearcher(fs, hnsw, cfg.Collection)

	var commits *temporal.CommitStore
	if *temporalDir != "" {
		commits, err = temporal.OpenCommitStore(*temporalDir)
		if err != nil {
			logger.Error("failed to open temporal index", "error", err)
			os.Exit(1)
		}
	}

	reg := metrics.New(prometheus.DefaultRegisterer)

	pipeline := &query.Pipeline{
		Embedder:     noopEmbedder{dims: cfg.Collection.VectorSize},
		Searcher:     searcher,
		Materializer: materialize.New(repo),
		Commits:      commits,
		Repo:         repo,
		Metrics:      reg,
		Warn:         warn.Default(),
	}
	queue := jobqueue.New(64)
	queue.Run()
	defer queue.Stop()

	jobHandler := &jobqueue.Handler{
		Queue: queue,
		Dispatch: func(req jobqueue.RegisterRequest) (string, map[string]any, jobqueue.Func) {
			kind := "index"
			if len(req.IndexTypes) > 0 {
				kind = req.IndexTypes[0]
			}
			metadata := map[string]any{"repo_url": req.RepoURL, "index_types": req.IndexTypes}
			return kind, metadata, func(ctx context.Context, update func(map[string]any)) (any, error) {
				return nil, fmt.Errorf("registration dispatch not wired to a concrete indexing backend in this entrypoint")
			}
		},
	}

	jobMux := jobHandler.Mux()
	mux := http.NewServeMux()
	mux.Handle("/register", jobMux)
	mux.Handle("/job/", jobMux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/query", handleQuery(pipeline))

	logger.Info("apiserver listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("apiserver exited with error", "error", err)
		os.Exit(1)
	}
}

// queryRequest mirrors spec.md §6's POST /query body.
type queryRequest struct {
	Query          string           `json:"query"`
	Limit          int              `json:"limit"`
	TimeRange      *query.TimeRange `json:"time_range,omitempty"`
	AtCommit       string           `json:"at_commit,omitempty"`
	IncludeRemoved bool             `json:"include_removed,omitempty"`
	ShowEvolution  bool             `json:"show_evolution,omitempty"`
	EvolutionLimit int              `json:"evolution_limit,omitempty"`
	Filter         *store.Filter    `json:"filter,omitempty"`
}

func handleQuery(p *query.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		result, err := p.Query(req.Query, query.Options{
			Limit: req.Limit, TimeRange: req.TimeRange, AtCommit: req.AtCommit,
			IncludeRemoved: req.IncludeRemoved, ShowEvolution: req.ShowEvolution,
			EvolutionLimit: req.EvolutionLimit, Filter: req.Filter,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}
