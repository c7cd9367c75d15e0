package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ark-mcp/internal/ark"
	"ark-mcp/internal/common"
	"ark-mcp/internal/filecontent"
	"ark-mcp/internal/generation"
	"ark-mcp/internal/metrics"
	"ark-mcp/internal/middleware"
	"ark-mcp/internal/resolver"
	"ark-mcp/internal/storage"

	"github.com/gorilla/mux"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	transport   = flag.String("transport", "", "Transport type (stdio, http, or sse)")
	showVersion = flag.Bool("version", false, "Show version information")
)

// Version information - these will be set during build
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const (
	serviceName      = "ark-mcp"
	metricsNamespace = "ark_mcp"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", serviceName, version)
		fmt.Println("A Model Context Protocol server for Seedance video and Seedream image generation")
		fmt.Printf("Built: %s\n", buildTime)
		fmt.Printf("Commit: %s\n", gitCommit)
		return
	}

	config := common.LoadConfig()
	config.SetTransport(*transport)

	logger, err := common.NewLogger(config.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := config.Validate(); err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stor, err := storage.NewStorage(config, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer stor.Close()

	collector := metrics.NewCollector(metricsNamespace, prometheus.DefaultRegisterer, logger)
	server := newServer(config, stor, collector, logger)

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    serviceName,
		Version: version,
	}, nil)
	server.registerTools(mcpServer)

	logger.Info("starting server",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("transport", config.Transport),
		zap.String("base_url", config.BaseURL),
		zap.Strings("file_base_urls", config.FileBaseURLs))
	if config.S3Enabled {
		logger.Info("S3 storage enabled", zap.String("bucket", config.S3Bucket), zap.Duration("ttl", config.S3ObjectTTL))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal, cleaning up")
		cancel()
	}()

	switch config.Transport {
	case "http", "sse":
		if err := runHTTPServer(ctx, mcpServer, server, collector); err != nil {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	case "stdio":
		fallthrough
	default:
		if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}
}

// newServer wires file lookup, image resolution and the generation tools.
// Uploaded files are looked up in storage first, then in the optional file
// content service.
func newServer(config *common.Config, stor storage.Storage, recorder generation.Recorder, logger *zap.Logger) *Server {
	httpClient := &http.Client{Timeout: 60 * time.Second}

	backends := []filecontent.Backend{filecontent.StorageBackend{Storage: stor}}
	if config.FileAPIURL != "" {
		backends = append(backends, filecontent.AccessorBackend{
			Accessor: filecontent.HTTPAccessor(config.FileAPIURL, httpClient),
		})
	}
	files := filecontent.NewRetriever(logger, backends...)

	images := resolver.New(files, config.FileBaseURLs, resolver.WithLogger(logger))
	api := ark.NewClient(config.BaseURL, config.APIKey, ark.WithLogger(logger))

	gen := generation.New(api, images, generation.Options{
		VideoModel:   config.VideoModel,
		ImageModel:   config.ImageModel,
		PollInterval: config.PollInterval,
		MaxPolls:     config.MaxPolls,
	}, generation.WithLogger(logger), generation.WithRecorder(recorder))

	return &Server{
		config:     config,
		storage:    stor,
		generator:  gen,
		httpClient: httpClient,
		logger:     logger,
	}
}

// newRouter builds the HTTP surface: health, metrics, uploads and the MCP
// endpoint as catch-all. Uploads and MCP require a service token when tokens
// are configured.
func newRouter(mcpServer *mcp.Server, s *Server, recorder middleware.RequestRecorder) *mux.Router {
	handler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	var tokens []string
	if s.config.AuthEnabled {
		tokens = s.config.ServiceTokens
	}

	router := mux.NewRouter()
	router.Use(middleware.Metrics(recorder))

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	}).Methods(http.MethodGet).Name("healthz")
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name("metrics")
	router.Handle("/upload", middleware.AuthMiddleware(tokens, s.logger, http.HandlerFunc(s.handleUpload))).
		Methods(http.MethodPost).Name("upload")
	router.PathPrefix("/").Handler(middleware.AuthMiddleware(tokens, s.logger, handler)).Name("mcp")

	return router
}

// runHTTPServer starts the MCP server with HTTP transport
func runHTTPServer(ctx context.Context, mcpServer *mcp.Server, s *Server, recorder middleware.RequestRecorder) error {
	if s.config.AuthEnabled {
		s.logger.Info("authentication enabled", zap.Int("tokens", len(s.config.ServiceTokens)))
	} else {
		s.logger.Warn("authentication disabled - server is publicly accessible")
	}

	addr := ":" + s.config.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(mcpServer, s, recorder),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
