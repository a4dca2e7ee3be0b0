// Package engine wraps pluggable evidence-extraction providers behind a
// single interface. Providers emit raw observations in their native
// confidence scale; normalization happens downstream.
package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/karibu-capital/greenscore-cli/internal/config"
	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// Observation is one raw detection from a provider.
type Observation struct {
	Label      string            `json:"label"`
	Kind       model.FindingKind `json:"kind"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Quantity   float64           `json:"quantity"`
	Confidence float64           `json:"confidence"` // provider-native scale
}

// RawResult is a provider's full output for one evidence payload.
// Scale is the maximum of the provider's confidence range; callers divide
// by it to normalize into [0,1].
type RawResult struct {
	Engine       string        `json:"engine"`
	Scale        float64       `json:"scale"`
	Observations []Observation `json:"observations"`
}

// Engine extracts structured observations from an evidence payload.
type Engine interface {
	Extract(ctx context.Context, ev model.Evidence, payload []byte) (*RawResult, error)
}

// New creates an Engine based on config.
func New(cfg config.EngineConfig) (Engine, error) {
	var e Engine
	switch cfg.Provider {
	case "keyword", "":
		e = NewKeyword()
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, eris.New("engine: anthropic provider requires anthropic_key")
		}
		e = NewAnthropic(cfg.AnthropicKey, cfg.Model)
	default:
		return nil, eris.Errorf("engine: unknown provider %q", cfg.Provider)
	}

	if cfg.RatePerSec > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		e = &limited{inner: e, lim: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)}
	}
	return e, nil
}

// limited throttles calls to the wrapped engine.
type limited struct {
	inner Engine
	lim   *rate.Limiter
}

func (l *limited) Extract(ctx context.Context, ev model.Evidence, payload []byte) (*RawResult, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "engine: rate limit wait")
	}
	return l.inner.Extract(ctx, ev, payload)
}
