// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/internal/pubsub"
	"github.com/teradata-labs/warp/pkg/agent"
	"github.com/teradata-labs/warp/pkg/budget"
	"github.com/teradata-labs/warp/pkg/config"
	"github.com/teradata-labs/warp/pkg/gateway"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/llm/factory"
	"github.com/teradata-labs/warp/pkg/memory"
	"github.com/teradata-labs/warp/pkg/orchestration"
	"github.com/teradata-labs/warp/pkg/scheduler"
	"github.com/teradata-labs/warp/pkg/scheduler/trigger"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/tools/builtin"
	"github.com/teradata-labs/warp/pkg/types"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warp daemon",
	Long: heredoc.Doc(`
		Start the runtime: provider router, scheduler workers, trigger
		evaluation, and the HTTP gateway. Runs until SIGINT or SIGTERM,
		then drains in-flight tasks.
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	if err := log.Configure(cfg.LogLevel, "text"); err != nil {
		return err
	}
	logger := log.Logger()
	defer func() { _ = log.Sync() }()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Scheduler.TriggersDir, 0o700); err != nil {
		return fmt.Errorf("create triggers dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Providers and router.
	router, err := buildRouter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Long-term memory and the eviction promoter.
	if err := os.MkdirAll(filepath.Dir(cfg.Memory.Path), 0o700); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	archive, err := memory.NewStore(cfg.Memory.Path, cfg.Memory.Embedder.Dimensions, logger)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer archive.Close()

	var embedder types.Embedder
	if cfg.Memory.Embedder.Endpoint != "" {
		embedder = factory.BuildEmbedder(cfg.Memory.Embedder.Endpoint,
			cfg.Memory.Embedder.Model, cfg.Memory.Embedder.Dimensions)
	}
	promoter := memory.NewPromoter(router, archive, embedder, cfg.Memory.PromoteMinChars, logger)
	buffer := memory.NewBuffer(cfg.Memory.ShortTermCapacity, promoter.OnEvict)

	// Spend ledger.
	ledger, err := budget.NewLedger(filepath.Join(cfg.DataDir, "budget.json"), cfg.Budget)
	if err != nil {
		return fmt.Errorf("open budget ledger: %w", err)
	}

	// Tools.
	registry := tools.NewRegistry()
	registry.Register(builtin.NewCurrentTime())
	registry.Register(builtin.NewHTTPFetch(cfg.Tools.HTTPMaxBytes))
	registry.Register(builtin.NewMemorySearch(archive.ReadOnly(), embedder))
	if len(cfg.Tools.DBBackends) > 0 {
		registry.Register(builtin.NewDBQuery(cfg.Tools.DBBackends))
	}

	// Task store and event stream.
	taskStore, err := scheduler.NewStore(cfg.Scheduler.TaskDB, logger)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer taskStore.Close()
	events := pubsub.NewBroker[types.StepEvent]()

	// Sub-agent orchestration and the root agent loop.
	orchestrator := orchestration.New(orchestration.Config{
		Router:   router,
		Registry: registry,
		Store:    archive,
		Embedder: embedder,
		Sink:     taskStore,
		Events:   events,
		Ledger:   ledger,
		Logger:   logger,
	})
	loop := agent.New(router,
		agent.WithTools(registry),
		agent.WithMemory(buffer, archive, embedder),
		agent.WithTurnSink(taskStore),
		agent.WithDelegator(orchestrator),
		agent.WithLedger(ledger),
		agent.WithEvents(events),
		agent.WithLogger(logger),
	)

	// Scheduler, triggers, evaluator.
	sched := scheduler.NewScheduler(scheduler.NewQueue(), taskStore, loop, scheduler.Config{
		Workers:  cfg.Scheduler.Workers,
		Autonomy: cfg.Scheduler.Autonomy,
		DailyCap: cfg.Scheduler.DailyCap,
		Logger:   logger,
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	evaluator := scheduler.NewEvaluator(sched, taskStore, cfg.Scheduler.PollInterval, logger)
	loader := scheduler.NewLoader(cfg.Scheduler.TriggersDir, logger)
	triggers := newTriggerSet(ctx, evaluator, logger)

	defs, _, err := loader.Load()
	if err != nil {
		logger.Warn("initial trigger load failed", zap.Error(err))
	}
	triggers.apply(defs)
	go evaluator.Run(ctx)
	go func() {
		if err := loader.Watch(ctx, triggers.apply); err != nil {
			logger.Warn("trigger watch stopped", zap.Error(err))
		}
	}()

	// HTTP gateway.
	gw := gateway.NewServer(gateway.Config{
		Addr:      cfg.Gateway.Addr,
		Scheduler: sched,
		Store:     taskStore,
		Router:    router,
		Archive:   archive.ReadOnly(),
		Embedder:  embedder,
		Memory:    archive,
		Ledger:    ledger,
		Events:    events,
		Logger:    logger,
	})
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	logger.Info("warp is running",
		zap.String("addr", cfg.Gateway.Addr),
		zap.String("autonomy", cfg.Scheduler.Autonomy),
		zap.Int("workers", cfg.Scheduler.Workers))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", zap.Error(err))
	}
	triggers.stop(shutdownCtx)
	sched.Wait()
	return nil
}

// buildRouter constructs every configured provider adapter and
// registers it. Unreachable providers are skipped with a warning; at
// least one must survive.
func buildRouter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*llm.Router, error) {
	routerCfg := cfg.Router
	routerCfg.Logger = logger
	router := llm.NewRouter(routerCfg)
	limiter := llm.NewRateLimiter(llm.DefaultRateLimiterConfig())

	secrets := factory.Secrets{
		AnthropicAPIKey:    config.Secret("anthropic_api_key"),
		GeminiAPIKey:       config.Secret("gemini_api_key"),
		XAIAPIKey:          config.Secret("xai_api_key"),
		AWSRegion:          os.Getenv("AWS_REGION"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSSessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		AWSProfile:         os.Getenv("AWS_PROFILE"),
		OllamaEndpoint:     config.Secret("ollama_endpoint"),
	}

	registered := 0
	for i := range cfg.Providers {
		profile := &cfg.Providers[i]
		provider, err := factory.Build(ctx, profile, secrets, limiter)
		if err != nil {
			logger.Warn("skipping provider", zap.String("profile", profile.Name), zap.Error(err))
			continue
		}
		if err := router.Register(profile, provider); err != nil {
			return nil, fmt.Errorf("register provider %s: %w", profile.Name, err)
		}
		registered++
	}
	if registered == 0 {
		return nil, fmt.Errorf("no providers available: configure at least one in warp.yaml")
	}
	return router, nil
}

// triggerSet tracks live trigger sources across hot reloads, starting
// and stopping connection-holding sources (MQTT) as definitions change.
type triggerSet struct {
	ctx       context.Context
	evaluator *scheduler.Evaluator
	logger    *zap.Logger
	stoppers  []interface {
		Stop(ctx context.Context) error
	}
}

func newTriggerSet(ctx context.Context, evaluator *scheduler.Evaluator, logger *zap.Logger) *triggerSet {
	return &triggerSet{ctx: ctx, evaluator: evaluator, logger: logger}
}

func (ts *triggerSet) apply(defs []scheduler.Definition) {
	ts.stopAll()

	sources := make([]trigger.Source, 0, len(defs))
	priorities := make(map[string]int, len(defs))
	for _, def := range defs {
		src, err := scheduler.BuildSource(def, ts.logger)
		if err != nil {
			ts.logger.Warn("skipping trigger", zap.String("trigger", def.Name), zap.Error(err))
			continue
		}
		if starter, ok := src.(interface{ Start(ctx context.Context) error }); ok {
			if err := starter.Start(ts.ctx); err != nil {
				ts.logger.Warn("trigger failed to start", zap.String("trigger", def.Name), zap.Error(err))
				continue
			}
		}
		if stopper, ok := src.(interface {
			Stop(ctx context.Context) error
		}); ok {
			ts.stoppers = append(ts.stoppers, stopper)
		}
		sources = append(sources, src)
		priorities[def.Name] = def.Priority
	}

	ts.evaluator.SetSources(sources, priorities)
	ts.logger.Info("triggers loaded", zap.Int("count", len(sources)))
}

func (ts *triggerSet) stop(ctx context.Context) {
	ts.evaluator.SetSources(nil, nil)
	ts.stopAllCtx(ctx)
}

func (ts *triggerSet) stopAll() { ts.stopAllCtx(ts.ctx) }

func (ts *triggerSet) stopAllCtx(ctx context.Context) {
	for _, s := range ts.stoppers {
		if err := s.Stop(ctx); err != nil {
			ts.logger.Warn("trigger stop failed", zap.Error(err))
		}
	}
	ts.stoppers = nil
}
