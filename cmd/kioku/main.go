// Package main is the Kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kioku/internal/backend"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/llm"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/retrieval"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/vectorstore"
	"github.com/hyperjump/kioku/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "kioku server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "retrieve":
		runRetrieve()
	case "collections":
		runCollections()
	case "sources":
		runSources()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (ingest, query, cache events)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("backend", cfg.Backend.Kind),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(
		components.Ingester,
		components.Retriever,
		components.Store,
		components.Backend,
		components.Limiter,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	collection := fs.String("collection", "", "collection to store chunks in (default: \"default\")")
	source := fs.String("source", "", "source name (default: the file name)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku ingest [flags] <text-file>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Failed to read file: %v\n", err)
		os.Exit(1)
	}
	src := *source
	if src == "" {
		src = filepath.Base(path)
	}

	req := models.IngestRequest{
		Content:    string(data),
		Source:     src,
		Collection: *collection,
	}
	var result models.IngestResult
	if err := postJSON(*serverURL+"/api/v1/ingest", req, &result, http.StatusCreated); err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %s: %d chunk(s)\n", result.Source, result.Chunks)
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryArgsReorder moves any flags (and their values) that appear after the
// question to the front of the slice so that flag.Parse() sees them. Go's
// flag package stops at the first non-flag argument.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery() {
	queryArgs := queryArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("query", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	collection := fs.String("collection", "", "restrict retrieval to a collection")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	showSources := fs.Bool("sources", true, "include source citations")
	noCache := fs.Bool("no-cache", false, "bypass the query cache")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(queryArgs)

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku query [flags] <question>")
		os.Exit(1)
	}
	question := buildQuestion(fs.Args())
	if question == "" {
		fmt.Println("Usage: kioku query [flags] <question>")
		os.Exit(1)
	}

	req := models.QueryRequest{
		Question:       question,
		Collection:     *collection,
		TopK:           *topK,
		IncludeSources: *showSources,
	}
	if *noCache {
		f := false
		req.UseCache = &f
	}

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var result models.QueryResult
	if err := postJSON(*serverURL+"/api/v1/query", req, &result, http.StatusOK); err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteQueryResult(os.Stdout, &result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRetrieve() {
	retrieveArgs := queryArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	collection := fs.String("collection", "", "restrict retrieval to a collection")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(retrieveArgs)

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku retrieve [flags] <question>")
		os.Exit(1)
	}
	question := buildQuestion(fs.Args())
	if question == "" {
		fmt.Println("Usage: kioku retrieve [flags] <question>")
		os.Exit(1)
	}

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	req := models.QueryRequest{
		Question:   question,
		Collection: *collection,
		TopK:       *topK,
	}
	var out struct {
		Documents []models.Source `json:"documents"`
	}
	if err := postJSON(*serverURL+"/api/v1/retrieve", req, &out, http.StatusOK); err != nil {
		fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSources(os.Stdout, out.Documents, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runCollections() {
	args := os.Args[2:]
	if len(args) > 0 && args[0] == "delete" {
		fs := flag.NewFlagSet("collections delete", flag.ExitOnError)
		serverURL := fs.String("server", "http://localhost:8080", "server URL")
		_ = fs.Parse(args[1:])
		if fs.NArg() < 1 {
			fmt.Println("Usage: kioku collections delete <name>")
			os.Exit(1)
		}
		name := fs.Arg(0)
		var out struct {
			Deleted int `json:"deleted"`
		}
		if err := doDelete(*serverURL+"/api/v1/collections/"+url.PathEscape(name), &out); err != nil {
			fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted collection %s: %d chunk(s) removed\n", name, out.Deleted)
		return
	}

	fs := flag.NewFlagSet("collections", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(args)

	var out struct {
		Collections []struct {
			Name          string   `json:"name"`
			DocumentCount int64    `json:"document_count"`
			Sources       []string `json:"sources"`
		} `json:"collections"`
	}
	if err := getJSON(*serverURL+"/api/v1/collections", &out); err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if len(out.Collections) == 0 {
		fmt.Println("No collections.")
		return
	}
	for _, c := range out.Collections {
		fmt.Printf("%s\t%d chunk(s)\n", c.Name, c.DocumentCount)
	}
}

func runSources() {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	collection := fs.String("collection", "", "restrict to a collection")
	_ = fs.Parse(os.Args[2:])

	endpoint := *serverURL + "/api/v1/sources"
	if *collection != "" {
		endpoint += "?collection=" + url.QueryEscape(*collection)
	}
	var out struct {
		Sources []models.SourceInfo `json:"sources"`
	}
	if err := getJSON(endpoint, &out); err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if len(out.Sources) == 0 {
		fmt.Println("No sources.")
		return
	}
	for _, s := range out.Sources {
		fmt.Printf("%s\t%d chunk(s)\t%s\n", s.Source, s.Count, s.CreatedAt.Format(time.RFC3339))
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku delete [flags] <source>")
		os.Exit(1)
	}
	source := fs.Arg(0)
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := doDelete(*serverURL+"/api/v1/sources/"+url.PathEscape(source), &out); err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted source %s: %d chunk(s) removed\n", source, out.Deleted)
}

// statsResponse is the shape of GET /api/v1/stats.
type statsResponse struct {
	TotalDocuments int64                      `json:"total_documents"`
	Collections    []string                   `json:"collections"`
	Config         map[string]interface{}     `json:"config,omitempty"`
	Cache          map[string]json.RawMessage `json:"cache,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var stats statsResponse
	if err := getJSON(*serverURL+"/api/v1/stats", &stats); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("total_documents:  %d   # count of stored chunks\n", stats.TotalDocuments)
		fmt.Printf("collections:      %s\n", strings.Join(stats.Collections, ", "))
		if len(stats.Config) > 0 {
			fmt.Println()
			fmt.Println("# configuration")
			for _, key := range []string{"backend_kind", "embedding_model", "chunk_size", "chunk_overlap", "top_k"} {
				if v, ok := stats.Config[key]; ok {
					fmt.Printf("%-17s %v\n", key+":", v)
				}
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func postJSON(endpoint string, payload interface{}, out interface{}, wantStatus int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func getJSON(endpoint string, out interface{}) error {
	resp, err := http.Get(endpoint)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func doDelete(endpoint string, out interface{}) error {
	req, err := http.NewRequest(http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Backend   backend.Backend
	Store     *vectorstore.Store
	Embedder  embedding.Embedder
	Generator llm.Generator
	Ingester  *ingest.Service
	Retriever *retrieval.Service
	Limiter   *cache.RateLimiter
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Generator != nil {
		_ = c.Generator.Close()
	}
	if c.Backend != nil {
		_ = c.Backend.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := backend.Open(ctx, cfg.Backend.Kind, backend.RedisConfig{
		Addr:     cfg.Backend.Redis.Addr,
		Password: cfg.Backend.Redis.Password,
		DB:       cfg.Backend.Redis.DB,
		PoolSize: cfg.Backend.Redis.PoolSize,
	}, cfg.Backend.Bolt.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend: %w", err)
	}

	store := vectorstore.New(b)

	embedder := embedding.NewOllamaEmbedder(embedding.OllamaConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	generator := llm.NewOllamaGenerator(llm.OllamaConfig{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})

	splitter, err := chunker.NewSplitter(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	var embCache *cache.EmbeddingCache
	ingestOpts := []ingest.Option{}
	retrievalOpts := []retrieval.Option{retrieval.WithTopK(cfg.Retrieval.TopK)}
	if cfg.Cache.EnabledOrDefault() {
		embCache = cache.NewEmbeddingCache(b, cfg.Embedding.Model,
			time.Duration(cfg.Cache.EmbeddingTTLSeconds)*time.Second)
		ingestOpts = append(ingestOpts, ingest.WithEmbeddingCache(embCache))
		retrievalOpts = append(retrievalOpts,
			retrieval.WithEmbeddingCache(embCache),
			retrieval.WithQueryCache(b, time.Duration(cfg.Cache.QueryTTLSeconds)*time.Second))
	}
	if debug && logger != nil {
		ingestOpts = append(ingestOpts, ingest.WithLogger(logger))
		retrievalOpts = append(retrievalOpts, retrieval.WithLogger(logger))
	}

	ingester := ingest.NewService(splitter, embedder, store, ingestOpts...)
	retriever := retrieval.NewService(store, embedder, generator, retrievalOpts...)

	var limiter *cache.RateLimiter
	if cfg.RateLimit.EnabledOrDefault() {
		limiter = cache.NewRateLimiter(b, cfg.RateLimit.MaxRequests,
			time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	}

	return &Components{
		Backend:   b,
		Store:     store,
		Embedder:  embedder,
		Generator: generator,
		Ingester:  ingester,
		Retriever: retriever,
		Limiter:   limiter,
	}, nil
}

func printUsage() {
	fmt.Println(`kioku - Document storage, retrieval, and caching engine

Usage:
  kioku server [flags]                 Start the HTTP server
  kioku ingest [flags] <text-file>     Ingest a text file
  kioku query [flags] <question>       Ask a question
  kioku retrieve [flags] <question>    Show matching chunks without an answer
  kioku collections [delete <name>]    List or delete collections
  kioku sources [flags]                List sources
  kioku delete [flags] <source>        Delete all chunks from a source
  kioku status [flags]                 Show store and cache status
  kioku version                        Show version
  kioku help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml)
  --debug            Enable debug logging (ingest, query, cache events)

Ingest Flags:
  --server string      Server URL (default: http://localhost:8080)
  --collection string  Collection to store chunks in
  --source string      Source name (default: the file name)

Query Flags:
  --server string      Server URL (default: http://localhost:8080)
  --collection string  Restrict retrieval to a collection
  --top-k int          Number of chunks to retrieve (0 = server default)
  --sources            Include source citations (default: true)
  --no-cache           Bypass the query cache
  --output string      Output format: text or json (default: text)

Retrieve Flags:
  --server string      Server URL (default: http://localhost:8080)
  --collection string  Restrict retrieval to a collection
  --top-k int          Number of chunks to retrieve (0 = server default)
  --output string      Output format: text or json (default: text)

Status Flags:
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format: text or json (default: text)

Examples:
  kioku server
  kioku ingest --collection docs README.md
  kioku query "how are chunks stored?"
  kioku query --collection docs --top-k 3 how are chunks stored
  kioku collections
  kioku delete README.md
  kioku status --output json`)
}
