package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/AgriAI/internal/diagnosis"
	"github.com/BTreeMap/AgriAI/internal/dispatch"
	"github.com/BTreeMap/AgriAI/internal/genai"
	"github.com/BTreeMap/AgriAI/internal/messaging"
	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/BTreeMap/AgriAI/internal/observability"
	"github.com/BTreeMap/AgriAI/internal/scheduler"
	"github.com/BTreeMap/AgriAI/internal/store"
	"github.com/BTreeMap/AgriAI/internal/weather"
)

// MessagingConfig selects and configures the outbound transport.
type MessagingConfig struct {
	// Transport is one of the messaging.Transport* names; empty picks the Cloud API.
	Transport string
	Cloud     []messaging.CloudOption
	Twilio    []messaging.TwilioOption
	Whatsmeow []messaging.WhatsmeowOption
}

// RunConfig groups the options for every component started by Run.
type RunConfig struct {
	Store            []store.Option
	GenAI            []genai.Option
	Messaging        MessagingConfig
	Weather          []weather.Option
	WeatherEnabled   bool
	DiagnosisTimeout time.Duration
	API              []Option
}

// Run wires the components together and serves until ctx is cancelled.
// Missing configuration degrades features instead of failing startup; only an
// unusable store is fatal.
func Run(ctx context.Context, cfg RunConfig) error {
	st, err := store.New(cfg.Store...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	slog.Info("Run: store ready", "kind", st.Kind())

	engine := buildEngine(cfg.GenAI)

	svc, closeSvc := buildMessenger(ctx, cfg.Messaging)
	defer closeSvc()

	metrics := observability.NewMetrics()

	sched := scheduler.NewScheduler(ctx)
	refresh := func(ctx context.Context) { refreshStoreGauges(ctx, st, metrics) }
	if err := sched.AddJob(StatsRefreshSchedule, "refresh-store-gauges", refresh); err != nil {
		return fmt.Errorf("failed to schedule stats refresh: %w", err)
	}
	refresh(ctx)
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	dispatchOpts := []dispatch.Option{dispatch.WithMetrics(metrics)}
	if cfg.WeatherEnabled {
		dispatchOpts = append(dispatchOpts, dispatch.WithWeather(weather.NewClient(cfg.Weather...)))
	} else {
		slog.Info("Run: weather lookups disabled")
	}
	if cfg.DiagnosisTimeout > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithTimeout(cfg.DiagnosisTimeout))
	}
	dispatcher := dispatch.NewDispatcher(st, svc, engine, dispatchOpts...)
	slog.Info("Run: dispatcher ready", "dispatcher", dispatcher.String())

	apiOpts := append([]Option{WithMetrics(metrics), WithAIEnabled(engine.RemoteEnabled())}, cfg.API...)
	server := NewServer(dispatcher, st, svc, apiOpts...)

	if wm, ok := svc.(*messaging.WhatsmeowService); ok {
		wm.OnMessage(func(msg models.InboundMessage) { server.Submit(msg) })
	}

	return server.ListenAndServe(ctx)
}

// buildEngine enables the remote tier when a language model client can be created.
func buildEngine(opts []genai.Option) *diagnosis.Engine {
	client, err := genai.NewClient(opts...)
	if err != nil {
		if errors.Is(err, genai.ErrNoAPIKey) {
			slog.Warn("Run: no AI API key configured, using rule-based diagnosis only")
		} else {
			slog.Error("Run: failed to create AI client, using rule-based diagnosis only", "error", err)
		}
		return diagnosis.NewEngine()
	}
	slog.Info("Run: AI diagnosis enabled", "model", client.Model())
	return diagnosis.NewEngine(diagnosis.WithRemote(diagnosis.NewAIRemote(client)))
}

// buildMessenger returns the configured transport, or the dry-run service when the
// transport is unconfigured or fails to start. The returned func releases it.
func buildMessenger(ctx context.Context, cfg MessagingConfig) (messaging.Service, func()) {
	noop := func() {}
	switch cfg.Transport {
	case messaging.TransportTwilio:
		svc, err := messaging.NewTwilioService(cfg.Twilio...)
		if err != nil {
			slog.Error("Run: Twilio transport unavailable, replies will be logged only", "error", err)
			return messaging.NewDryRunService(), noop
		}
		return svc, noop
	case messaging.TransportWhatsmeow:
		svc, err := messaging.NewWhatsmeowService(ctx, cfg.Whatsmeow...)
		if err != nil {
			slog.Error("Run: whatsmeow transport unavailable, replies will be logged only", "error", err)
			return messaging.NewDryRunService(), noop
		}
		return svc, svc.Close
	case messaging.TransportDryRun:
		return messaging.NewDryRunService(), noop
	case "", messaging.TransportCloud:
		svc := messaging.NewCloudAPIService(cfg.Cloud...)
		if !svc.Configured() {
			slog.Warn("Run: WhatsApp Cloud API not configured, replies will be logged only")
			return messaging.NewDryRunService(), noop
		}
		return svc, noop
	default:
		slog.Error("Run: unknown messaging transport, replies will be logged only", "transport", cfg.Transport)
		return messaging.NewDryRunService(), noop
	}
}
