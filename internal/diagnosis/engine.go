// Package diagnosis turns a farmer's free-text observation into a structured diagnosis.
//
// The Engine prefers a remote language-model tier and falls back to a deterministic
// keyword classifier whenever the remote tier is unconfigured or yields no result.
package diagnosis

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/AgriAI/internal/models"
)

// Request carries everything the engine needs for one diagnosis.
type Request struct {
	Crop        string
	Observation string
	Location    string
	// Weather is optional; nil when the user has no location or the lookup failed.
	Weather *models.WeatherSnapshot
}

// Opts holds configuration options for the Engine.
type Opts struct {
	Remote Remote
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithRemote enables the remote tier.
func WithRemote(r Remote) Option {
	return func(o *Opts) { o.Remote = r }
}

// Engine is the two-tier diagnosis engine.
type Engine struct {
	remote Remote
}

// NewEngine creates an Engine. Without WithRemote it is rule-based only.
func NewEngine(opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewEngine invoked", "remote_enabled", cfg.Remote != nil)
	return &Engine{remote: cfg.Remote}
}

// RemoteEnabled reports whether a remote tier is configured.
func (e *Engine) RemoteEnabled() bool {
	return e.remote != nil
}

// Diagnose returns a diagnosis for the request.
//
// A missing or failing remote tier never produces an error. The only error returned
// is ctx.Err() when the caller's context ends, so callers can tell a timeout apart.
func (e *Engine) Diagnose(ctx context.Context, req Request) (models.Diagnosis, error) {
	if err := ctx.Err(); err != nil {
		return models.Diagnosis{}, err
	}
	if req.Crop == "" {
		req.Crop = models.UnknownValue
	}
	if req.Location == "" {
		req.Location = models.UnknownValue
	}

	if e.remote != nil {
		res := e.remote.Diagnose(ctx, req)
		if res.Outcome == OutcomeDiagnosis {
			slog.Debug("Engine.Diagnose: remote diagnosis accepted", "crop", req.Crop, "confidence", res.Diagnosis.Confidence)
			return res.Diagnosis, nil
		}
		slog.Info("Engine.Diagnose: falling back to rule-based diagnosis", "crop", req.Crop, "reason", res.Reason)
		if err := ctx.Err(); err != nil {
			return models.Diagnosis{}, err
		}
	}

	return Classify(req.Crop, req.Observation), nil
}
