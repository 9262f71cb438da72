// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// murmurd is the headless orchestration service: it connects the
// configured tool servers, activates the selected LLM provider, and
// keeps both in sync with the settings file until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/murmur/internal/config"
	"github.com/tombee/murmur/internal/log"
	"github.com/tombee/murmur/internal/mcp"
	"github.com/tombee/murmur/internal/secrets"
	"github.com/tombee/murmur/pkg/llm"
	_ "github.com/tombee/murmur/pkg/llm/providers"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to settings.yaml (default: XDG config dir)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("murmurd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("murmurd failed", log.Error(err))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	store, err := config.NewStore(configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	settings := store.Get()

	invoker, err := buildInvoker(settings, logger)
	if err != nil {
		return err
	}

	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}

	service := mcp.NewMCPService(mcp.ServiceOptions{
		Configs:      store,
		ConfigDir:    configDir,
		Summarizer:   invoker,
		Responses:    settings.ResponseProcessorConfig(),
		RuntimeState: store,
		PersistOAuth: store.PersistOAuth,
		Logger:       logger,
	})
	defer service.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	initCtx, initCancel := context.WithTimeout(ctx, 60*time.Second)
	if err := service.Initialize(initCtx); err != nil {
		initCancel()
		return fmt.Errorf("initialize tool servers: %w", err)
	}
	initCancel()

	if listing, err := service.ListAllToolsFormatted(ctx); err == nil {
		logger.Info("tool servers ready", slog.Int("servers", len(service.ServerStatuses())))
		log.Trace(logger, "available tools", log.String("tools", listing))
	}

	watcher, err := config.NewWatcher(store, func(updated *config.Settings) {
		if profile, err := store.ActiveProfile(); err == nil && profile != nil {
			if err := service.ApplyProfileConfig(ctx, *profile); err != nil {
				logger.Warn("profile re-apply failed", log.Error(err))
			}
		}
		logger.Info("settings updated", slog.String("active_profile", updated.ActiveProfile))
	}, logger)
	if err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	logger.Info("murmurd running", slog.String("version", version))
	<-ctx.Done()
	logger.Info("shutting down")
	invoker.Sessions().EmergencyStop()
	return nil
}

// buildInvoker activates the configured provider and wraps it with the
// retry, pacing, and cancellation layer.
func buildInvoker(settings *config.Settings, logger *slog.Logger) (*llm.Invoker, error) {
	providerName := settings.LLM.DefaultProvider
	if providerName == "" {
		providerName = "openai"
	}

	resolver := secrets.NewResolver(
		secrets.NewEnvSource(),
		secrets.NewKeychainSource(),
		secrets.NewStaticSource("settings", settings.LLM.APIKeys),
	)
	apiKey, err := resolver.Get(context.Background(), providerName)
	if err != nil {
		return nil, fmt.Errorf("resolve API key for %s: %w", providerName, err)
	}

	if err := llm.Activate(providerName, llm.APIKeyCredentials{APIKey: apiKey}); err != nil {
		return nil, fmt.Errorf("activate provider %s: %w", providerName, err)
	}
	if err := llm.SetDefault(providerName); err != nil {
		return nil, err
	}

	retry := llm.DefaultRetryConfig()
	retry.MaxRetries = settings.LLM.MaxRetries
	retry.InitialDelay = settings.LLM.InitialRetryDelay
	retry.MaxDelay = settings.LLM.MaxRetryDelay

	return llm.NewInvoker(llm.InvokerOptions{
		Retry:             &retry,
		RequestsPerSecond: settings.LLM.RequestsPerSecond,
		Logger:            log.WithProvider(logger, providerName),
	}), nil
}
