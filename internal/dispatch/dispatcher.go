// Package dispatch routes inbound chat messages to their handlers.
//
// One inbound message is handled end to end by Dispatch: the sender is resolved
// (and onboarded on first contact), the message kind and command are decided,
// and exactly one handler produces the replies. Failures in storage, weather or
// sending are logged and replaced with safe fallbacks so that one farmer's
// problem never affects another message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/AgriAI/internal/diagnosis"
	"github.com/BTreeMap/AgriAI/internal/messaging"
	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/BTreeMap/AgriAI/internal/observability"
	"github.com/BTreeMap/AgriAI/internal/store"
	"github.com/BTreeMap/AgriAI/internal/weather"
	"github.com/jonboulle/clockwork"
)

// DefaultTimeout bounds one diagnosis engine call.
const DefaultTimeout = 45 * time.Second

// Engine produces a diagnosis for a request.
type Engine interface {
	Diagnose(ctx context.Context, req diagnosis.Request) (models.Diagnosis, error)
}

// Opts holds configuration options for the Dispatcher.
type Opts struct {
	Weather weather.Provider
	Metrics *observability.Metrics
	Timeout time.Duration
	Clock   clockwork.Clock
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithWeather enables weather lookups for users with a stored location.
func WithWeather(p weather.Provider) Option {
	return func(o *Opts) { o.Weather = p }
}

// WithMetrics records dispatch metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithTimeout bounds each diagnosis.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithClock overrides the clock used for durations.
func WithClock(c clockwork.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// Dispatcher handles inbound messages.
type Dispatcher struct {
	store     store.Store
	messenger messaging.Service
	engine    Engine
	weather   weather.Provider
	metrics   *observability.Metrics
	timeout   time.Duration
	clock     clockwork.Clock
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(st store.Store, svc messaging.Service, engine Engine, opts ...Option) *Dispatcher {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.New(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("NewDispatcher", "transport", svc.Name(), "weather_set", cfg.Weather != nil, "timeout", cfg.Timeout)
	return &Dispatcher{
		store:     st,
		messenger: svc,
		engine:    engine,
		weather:   cfg.Weather,
		metrics:   cfg.Metrics,
		timeout:   cfg.Timeout,
		clock:     cfg.Clock,
	}
}

// Dispatch handles one inbound message. It never returns an error and never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.InboundMessage) {
	d.metrics.DispatchInFlight.Inc()
	defer d.metrics.DispatchInFlight.Dec()

	phone, err := messaging.CanonicalizePhone(msg.From)
	if err != nil {
		slog.Warn("Dispatcher.Dispatch: unidentifiable sender, dropping message", "from", msg.From, "kind", msg.Kind, "error", err)
		d.metrics.DispatchErrors.WithLabelValues(string(CategoryValidation)).Inc()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.Dispatch: panic recovered", "phone", phone, "panic", r)
			d.replyCategory(ctx, phone, CategoryGeneric)
		}
	}()

	d.metrics.InboundMessages.WithLabelValues(string(msg.Kind)).Inc()

	user, err := d.store.GetUserByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		d.onboard(ctx, phone)
		return
	}
	if err != nil {
		slog.Error("Dispatcher.Dispatch: user lookup failed", "phone", phone, "error", err)
		d.replyCategory(ctx, phone, CategoryLookup)
		return
	}
	d.route(ctx, user, msg)
}

func (d *Dispatcher) onboard(ctx context.Context, phone string) {
	if _, err := d.store.CreateUser(ctx, models.User{Phone: phone}); err != nil {
		slog.Error("Dispatcher.onboard: create user failed", "phone", phone, "error", err)
	} else {
		slog.Info("Dispatcher.onboard: new user", "phone", phone)
	}
	d.reply(ctx, phone, OnboardingMessage)
}

func (d *Dispatcher) route(ctx context.Context, user models.User, msg models.InboundMessage) {
	switch msg.Kind {
	case models.MessageKindAudio:
		d.reply(ctx, user.Phone, VoiceNotSupportedMessage)
	case models.MessageKindImage:
		d.reply(ctx, user.Phone, PhotoReceivedMessage)
		if strings.TrimSpace(msg.Caption) != "" {
			d.route(ctx, user, models.InboundMessage{From: msg.From, Kind: models.MessageKindText, Text: msg.Caption})
		}
	case models.MessageKindText:
		d.handleText(ctx, user, msg.Text)
	default:
		slog.Info("Dispatcher.route: unsupported message kind", "phone", user.Phone, "kind", msg.Kind)
		d.reply(ctx, user.Phone, UnsupportedMessage)
	}
}

func (d *Dispatcher) handleText(ctx context.Context, user models.User, text string) {
	cmd, err := ParseCommand(text)
	if err != nil {
		slog.Warn("Dispatcher.handleText: malformed message", "phone", user.Phone, "error", err)
		d.replyError(ctx, user.Phone, err)
		return
	}
	d.metrics.Commands.WithLabelValues(cmd.command()).Inc()

	switch c := cmd.(type) {
	case CommandHelp:
		d.reply(ctx, user.Phone, HelpMessage)
	case CommandJoin:
		d.handleReferral(ctx, user, c)
	case CommandFeedback:
		d.handleFeedback(ctx, user, c, text)
	case CommandDiagnose:
		d.handleDiagnosis(ctx, user, c.Text)
	}
}

func (d *Dispatcher) handleReferral(ctx context.Context, user models.User, cmd CommandJoin) {
	referrer, err := d.store.GetUserByReferralCode(ctx, cmd.Code)
	if errors.Is(err, store.ErrNotFound) || (err == nil && referrer.ID == user.ID) {
		slog.Info("Dispatcher.handleReferral: invalid code", "phone", user.Phone, "code", cmd.Code)
		d.reply(ctx, user.Phone, InvalidReferralMessage)
		return
	}
	if err != nil {
		slog.Error("Dispatcher.handleReferral: referrer lookup failed", "phone", user.Phone, "code", cmd.Code, "error", err)
		d.replyCategory(ctx, user.Phone, CategoryLookup)
		return
	}

	count, err := d.store.IncrementReferrals(ctx, referrer.ID)
	if err != nil {
		slog.Error("Dispatcher.handleReferral: increment failed", "phone", user.Phone, "referrer", referrer.Phone, "error", err)
		d.replyError(ctx, user.Phone, err)
		return
	}
	slog.Info("Dispatcher.handleReferral: referral recorded", "phone", user.Phone, "referrer", referrer.Phone, "count", count)

	if count >= models.PremiumReferralThreshold {
		d.reply(ctx, referrer.Phone, premiumUnlockedMessage(count))
	} else {
		d.reply(ctx, referrer.Phone, referralProgressMessage(count))
	}
	d.reply(ctx, user.Phone, referralWelcomeMessage(referrer.Name))
}

// handleFeedback rates the latest diagnosis. Without one, the text is treated
// as a diagnosis request.
func (d *Dispatcher) handleFeedback(ctx context.Context, user models.User, cmd CommandFeedback, text string) {
	latest, err := d.store.LatestDiagnosis(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		d.handleDiagnosis(ctx, user, text)
		return
	}
	if err != nil {
		slog.Error("Dispatcher.handleFeedback: latest diagnosis lookup failed", "phone", user.Phone, "error", err)
		d.replyCategory(ctx, user.Phone, CategoryLookup)
		return
	}

	kind, reply := models.FeedbackNotHelpful, FeedbackNotHelpfulMessage
	if cmd.Helpful {
		kind, reply = models.FeedbackHelpful, FeedbackHelpfulMessage
	}
	if _, err := d.store.SaveFeedback(ctx, models.Feedback{UserID: user.ID, DiagnosisID: latest.ID, Kind: kind}); err != nil {
		slog.Error("Dispatcher.handleFeedback: save failed", "phone", user.Phone, "error", err)
	}
	d.reply(ctx, user.Phone, reply)
}

func (d *Dispatcher) handleDiagnosis(ctx context.Context, user models.User, text string) {
	d.reply(ctx, user.Phone, AnalysingMessage)

	req := diagnosis.Request{
		Crop:        user.CropOrUnknown(),
		Observation: text,
		Location:    user.LocationOrUnknown(),
		Weather:     d.lookupWeather(ctx, user),
	}

	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := d.clock.Now()
	result, err := d.engine.Diagnose(dctx, req)
	d.metrics.DiagnosisDuration.Observe(d.clock.Since(start).Seconds())
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("Dispatcher.handleDiagnosis: diagnosis timed out", "phone", user.Phone, "timeout", d.timeout)
		d.metrics.DispatchErrors.WithLabelValues(string(CategoryTimeout)).Inc()
		d.reply(ctx, user.Phone, TimeoutMessage)
		return
	}
	if err != nil {
		slog.Error("Dispatcher.handleDiagnosis: diagnosis failed", "phone", user.Phone, "error", err)
		d.replyError(ctx, user.Phone, err)
		return
	}
	d.metrics.Diagnoses.WithLabelValues(string(result.Method)).Inc()

	if _, err := d.store.SaveDiagnosis(ctx, user.ID, result); err != nil {
		slog.Error("Dispatcher.handleDiagnosis: save failed", "phone", user.Phone, "error", err)
	}
	d.reply(ctx, user.Phone, FormatDiagnosis(result))
}

// lookupWeather returns nil when weather is disabled, the user has no location,
// or the lookup fails.
func (d *Dispatcher) lookupWeather(ctx context.Context, user models.User) *models.WeatherSnapshot {
	if d.weather == nil || !user.HasLocation() {
		return nil
	}
	snap, err := d.weather.Current(ctx, user.Location)
	if err != nil {
		slog.Warn("Dispatcher.lookupWeather: weather unavailable, continuing without", "phone", user.Phone, "location", user.Location, "error", err)
		d.metrics.WeatherLookups.WithLabelValues("error").Inc()
		return nil
	}
	d.metrics.WeatherLookups.WithLabelValues("success").Inc()
	return snap
}

func (d *Dispatcher) reply(ctx context.Context, phone, body string) {
	if !messaging.Deliver(ctx, d.messenger, phone, body) {
		d.metrics.SendFailures.Inc()
	}
}

func (d *Dispatcher) replyError(ctx context.Context, phone string, err error) {
	d.replyCategory(ctx, phone, Categorize(err))
}

func (d *Dispatcher) replyCategory(ctx context.Context, phone string, c Category) {
	d.metrics.DispatchErrors.WithLabelValues(string(c)).Inc()
	d.reply(ctx, phone, CategoryMessage(c))
}

// String describes the dispatcher configuration for startup logs.
func (d *Dispatcher) String() string {
	return fmt.Sprintf("Dispatcher{store=%s transport=%s weather=%t timeout=%s}", d.store.Kind(), d.messenger.Name(), d.weather != nil, d.timeout)
}
