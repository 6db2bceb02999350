// kahlohostd is the host-side control plane: it owns the device
// registry, target manager, job controller, event streams, and
// artifact/draft/module stores, and exposes them as an MCP tool
// surface plus a small HTTP admin/debug mirror.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fuzzysecurity/kahlo-host/pkg/artifact"
	"github.com/fuzzysecurity/kahlo-host/pkg/config"
	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
	"github.com/fuzzysecurity/kahlo-host/pkg/draft"
	"github.com/fuzzysecurity/kahlo-host/pkg/events"
	"github.com/fuzzysecurity/kahlo-host/pkg/facade"
	"github.com/fuzzysecurity/kahlo-host/pkg/job"
	"github.com/fuzzysecurity/kahlo-host/pkg/module"
	"github.com/fuzzysecurity/kahlo-host/pkg/target"
	"github.com/fuzzysecurity/kahlo-host/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	slog.Info("starting kahlohostd", "version", version.Full(), "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	registry := deviceio.NewRegistry()

	eventMgr := events.NewManager(cfg.DataDir,
		cfg.Events.TargetStreamCapacity, cfg.Events.JobStreamCapacity,
		cfg.Events.FetchDefaultLimit, cfg.Events.FetchMaxLimit)

	drafts := draft.New(cfg.DataDir)
	modules := module.New(cfg.DataDir)
	artifacts := artifact.New(cfg.DataDir, cfg.Artifact.BudgetBytes)

	jobs := job.NewController(nil, eventMgr, cfg.Retention.JobTerminalRetention)
	targets := target.NewManager(registry, eventMgr, drafts, modules, jobs)
	jobs.SetScriptCreator(targets)
	targets.SetScriptDestroyedCallback(jobs.OnScriptDestroyed)

	f := facade.New(registry, targets, jobs, eventMgr, artifacts, drafts, modules)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		jobs.RunRetentionSweep(ctx, time.Minute)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		jobs.RunHealthSupervision(ctx, 10*time.Second)
	}()

	httpSrv := &http.Server{Addr: cfg.Facade.HTTPAddr, Handler: f.NewHTTPServer()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("HTTP admin/debug surface listening", "addr", cfg.Facade.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server exited", "error", err)
		}
	}()

	mcpServer := f.NewMCPServer(version.AppName, version.GitCommit)

	if cfg.Facade.MCPAddr != "" {
		mcpHTTPSrv := &http.Server{
			Addr: cfg.Facade.MCPAddr,
			Handler: mcpsdk.NewStreamableHTTPHandler(
				func(*http.Request) *mcpsdk.Server { return mcpServer }, nil),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("MCP streamable HTTP surface listening", "addr", cfg.Facade.MCPAddr)
			if err := mcpHTTPSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("MCP HTTP server exited", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpHTTPSrv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Facade.MCPStdio {
		go func() {
			if err := mcpServer.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
				slog.Error("MCP stdio session ended", "error", err)
			}
			stop()
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down kahlohostd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	wg.Wait()
}
