package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/owulveryck/agentcore/internal/agent"
	"github.com/owulveryck/agentcore/internal/config"
	"github.com/owulveryck/agentcore/internal/llm"
	"github.com/owulveryck/agentcore/internal/llm/gemini"
	"github.com/owulveryck/agentcore/internal/observability"
	"github.com/owulveryck/agentcore/internal/orchestrator"
	"github.com/owulveryck/agentcore/internal/system"
	"github.com/owulveryck/agentcore/internal/transport"
)

const shutdownTimeout = 10 * time.Second

type ServeCmd struct {
	GRPCAddr   string `name:"grpc-addr" help:"Dispatch server address (overrides AGENTCORE_GRPC_ADDR)."`
	HealthAddr string `name:"health-addr" help:"Health server address (overrides AGENTCORE_HEALTH_ADDR)."`
}

func (c *ServeCmd) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.GRPCAddr != "" {
		cfg.GRPCAddr = c.GRPCAddr
	}
	if c.HealthAddr != "" {
		cfg.HealthAddr = c.HealthAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := observability.NewTelemetry(ctx, observability.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	manager, logger := newManager(cfg, tel, os.Stderr)
	slog.SetDefault(logger)

	brain, err := newBrain(ctx, cfg, logger)
	if err != nil {
		return err
	}
	sys, err := buildSystem(cfg, manager, brain, logger)
	if err != nil {
		return err
	}

	health := newHealthServer(cfg, sys, manager, tel.Registry)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}
	mode, err := orchestrator.ParseMode(cfg.DefaultMode)
	if err != nil {
		return err
	}
	server := transport.NewServer(sys,
		transport.WithServerLogger(logger),
		transport.WithDefaultMode(mode),
	)

	if err := manager.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(lis) })
	g.Go(func() error { return health.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
		return errors.Join(
			health.Shutdown(shutdownCtx),
			sys.Shutdown(shutdownCtx),
			tel.Shutdown(shutdownCtx),
		)
	})
	return g.Wait()
}

// newManager wires the collector to the OpenTelemetry meter and returns a
// logger enriched with trace ids and counted into logs.total.
func newManager(cfg *config.AppConfig, tel *observability.Telemetry, w *os.File) (*observability.Manager, *slog.Logger) {
	base := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: observability.ParseLevel(cfg.LogLevel)}))

	tracer := observability.NewTracer(tel.Tracer, base)
	metrics := observability.NewMetricsCollector(
		observability.WithRetention(cfg.MetricsRetention),
		observability.WithInstruments(observability.NewInstruments(tel.Meter, base)),
		observability.WithCollectorLogger(base),
	)
	logger := observability.NewLogger(w, observability.ParseLevel(cfg.LogLevel), cfg.ServiceName,
		observability.WithHandlerTracer(tracer),
		observability.WithHandlerMetrics(metrics),
	)

	manager := observability.NewManager(
		observability.WithManagerTracer(tracer),
		observability.WithManagerMetrics(metrics),
		observability.WithManagerLogger(logger),
		observability.WithSampleInterval(cfg.SampleInterval),
	)
	return manager, logger
}

func newBrain(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (llm.Brain, error) {
	if !cfg.UseGemini() {
		logger.Warn("No Gemini credentials, agents answer with the echo brain")
		return llm.NewMockBrain(), nil
	}
	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:   cfg.GeminiAPIKey,
		Project:  cfg.GCPProject,
		Location: cfg.GCPLocation,
		Model:    cfg.GeminiModel,
	}, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// newHealthServer serves /health with the agent registry check and the
// manager health score.
func newHealthServer(cfg *config.AppConfig, sys *system.System, manager *observability.Manager, extra ...prometheus.Gatherer) *observability.HealthServer {
	health := observability.NewHealthServer(cfg.HealthAddr, cfg.ServiceVersion, manager, extra...)
	health.AddChecker("agents", observability.NewBasicHealthChecker("agents", func(context.Context) error {
		if sys.Status().TotalAgents == 0 {
			return errors.New("no agents registered")
		}
		return nil
	}))
	health.AddChecker("observability", manager)
	return health
}

// buildSystem registers the configured remote tools, agents, their tools,
// dashboards and alert rules.
func buildSystem(cfg *config.AppConfig, manager *observability.Manager, brain llm.Brain, logger *slog.Logger) (*system.System, error) {
	sys := system.New(
		system.WithObservability(manager),
		system.WithLogger(logger),
		system.WithOrchestratorOptions(
			orchestrator.WithFailFast(cfg.FailFast),
			orchestrator.WithMaxIterations(cfg.MaxIterations),
			orchestrator.WithConvergenceToken(cfg.ConvergenceToken),
			orchestrator.WithConcurrencyLimit(cfg.ConcurrencyLimit),
		),
	)

	for _, spec := range cfg.Agents.Tools {
		tool, err := newTool(spec)
		if err != nil {
			return nil, err
		}
		if err := sys.RegisterTool(tool); err != nil {
			return nil, err
		}
		logger.Info("Registered tool", "tool", tool.Name(), "kind", spec.Kind)
	}

	for _, spec := range cfg.Agents.Agents {
		a, err := agent.New(agent.Config{
			ID:           spec.ID,
			Name:         spec.Name,
			Instructions: spec.Instructions,
		}, brain, agent.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", spec.ID, err)
		}
		if err := sys.RegisterAgent(a); err != nil {
			return nil, err
		}
		for _, tool := range spec.Tools {
			if err := sys.AddToolToAgent(spec.ID, tool); err != nil {
				return nil, err
			}
		}
	}

	for _, d := range cfg.Agents.Dashboards {
		if err := manager.CreateDashboard(d.Name, d.Metrics, nil); err != nil {
			return nil, err
		}
	}
	for _, a := range cfg.Agents.Alerts {
		alert := a
		err := manager.AddAlertRule(alert.Name, alert.Condition(), func() {
			logger.Warn("Alert triggered",
				"alert", alert.Name,
				"metric", alert.Metric,
				"threshold", alert.Threshold,
			)
		})
		if err != nil {
			return nil, err
		}
	}
	return sys, nil
}

func newTool(spec config.ToolSpec) (agent.Capability, error) {
	switch spec.Kind {
	case config.ToolKindMCP:
		return agent.NewMCPCapability(spec.Name, spec.URL), nil
	case config.ToolKindOpenAPI:
		document, err := os.ReadFile(spec.Document)
		if err != nil {
			return nil, fmt.Errorf("failed to read openapi document: %w", err)
		}
		tool, err := agent.NewOpenAPICapability(spec.Name, document)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Document, err)
		}
		return tool, nil
	default:
		return nil, fmt.Errorf("unknown tool kind %q", spec.Kind)
	}
}
