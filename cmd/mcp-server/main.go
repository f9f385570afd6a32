// Package main is the entry point for the standalone MCP server binary.
// mcp-server provides a Model Context Protocol server that exposes session
// metadata and feedback tools to MCP-compatible clients (Claude Desktop,
// Cursor, Codex, etc.)
//
// The server supports two transports:
//   - SSE (Server-Sent Events) at /sse for Claude Desktop, Cursor
//   - Streamable HTTP at /mcp for Codex
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/internal/mcptools"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

// Command-line flags
var (
	portFlag       = flag.Int("port", 9090, "MCP server port")
	mongoURIFlag   = flag.String("mongo-uri", "mongodb://localhost:27017/", "MongoDB connection string")
	databaseFlag   = flag.String("database", "sessiontrail", "MongoDB database name")
	collectionFlag = flag.String("collection", "sessions", "MongoDB collection name")
	logLevelFlag   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormatFlag  = flag.String("log-format", "console", "Log format (console, json)")
)

func main() {
	flag.Parse()

	cfg := mcptools.Config{
		Port: getEnvIntOrFlag("MCP_PORT", *portFlag),
	}
	mongoURI := getEnvOrFlag("SESSIONTRAIL_MONGODB_CONNECTION_STRING", *mongoURIFlag)
	database := getEnvOrFlag("SESSIONTRAIL_MONGODB_DATABASE", *databaseFlag)
	collection := getEnvOrFlag("SESSIONTRAIL_MONGODB_COLLECTION", *collectionFlag)

	// Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      getEnvOrFlag("MCP_LOG_LEVEL", *logLevelFlag),
		Format:     getEnvOrFlag("MCP_LOG_FORMAT", *logFormatFlag),
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mcp-server",
		zap.Int("port", cfg.Port),
		zap.String("mongo_uri", session.RedactConnectionString(mongoURI)),
		zap.String("database", database),
		zap.String("collection", collection))

	run(cfg, mongoURI, database, collection, log)
}

// run connects the session factory, starts the MCP server, and waits for
// shutdown.
func run(cfg mcptools.Config, mongoURI, database, collection string, log *logger.Logger) {
	ctx := context.Background()

	factory, err := session.NewFactory(ctx, session.FactoryConfig{
		ConnectionString: mongoURI,
		Database:         database,
		Collection:       collection,
		Logger:           log,
	})
	if err != nil {
		log.Error("failed to connect to MongoDB", zap.Error(err))
		os.Exit(1)
	}

	srv, cleanup, err := mcptools.Provide(ctx, cfg, factory, log)
	if err != nil {
		log.Error("failed to start MCP server", zap.Error(err))
		_ = factory.Close(ctx)
		os.Exit(1)
	}

	log.Info("MCP server started",
		zap.String("sse_endpoint", srv.SSEEndpoint()),
		zap.String("streamable_http_endpoint", srv.StreamableHTTPEndpoint()))

	fmt.Printf("sessiontrail MCP server running on :%d\n", cfg.Port)
	fmt.Printf("SSE endpoint: %s (for Claude Desktop, Cursor)\n", srv.SSEEndpoint())
	fmt.Printf("Streamable HTTP endpoint: %s (for Codex)\n", srv.StreamableHTTPEndpoint())

	// Wait for shutdown signal
	waitForShutdown(log, func(shutdownCtx context.Context) {
		if err := cleanup(); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
		if err := factory.Close(shutdownCtx); err != nil {
			log.Error("error closing session factory", zap.Error(err))
		}
	})
}

// waitForShutdown waits for shutdown signal and calls cleanup
func waitForShutdown(log *logger.Logger, cleanup func(ctx context.Context)) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mcp-server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cleanup(ctx)

	log.Info("mcp-server stopped")
}

// getEnvOrFlag returns the environment variable value if set, otherwise the flag value.
func getEnvOrFlag(envKey, flagValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return flagValue
}

// getEnvIntOrFlag returns the environment variable value as int if set, otherwise the flag value.
func getEnvIntOrFlag(envKey string, flagValue int) int {
	if v := os.Getenv(envKey); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return flagValue
}
