package moderation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hushroom/server/internal/metrics"
)

// DefaultTimeout bounds a single remote classification.
const DefaultTimeout = 3 * time.Second

// Gate composes a primary classifier with a fallback that cannot fail.
// A nil primary sends every message straight to the fallback.
type Gate struct {
	primary  Classifier
	fallback Classifier
	timeout  time.Duration
	log      *zap.Logger
}

// NewGate creates a Gate. A nil fallback means the built-in Denylist; a
// non-positive timeout means DefaultTimeout.
func NewGate(primary, fallback Classifier, timeout time.Duration, log *zap.Logger) *Gate {
	if fallback == nil {
		fallback = NewDenylist()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{primary: primary, fallback: fallback, timeout: timeout, log: log}
}

// Moderate returns a verdict for text. It never fails.
func (g *Gate) Moderate(ctx context.Context, text string) Verdict {
	if g.primary == nil {
		metrics.ModerationFallbacks.WithLabelValues("unconfigured").Inc()
		return g.fallbackVerdict(ctx, text)
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	v, err := g.primary.Classify(cctx, text)
	metrics.ModerationLatency.Observe(time.Since(start).Seconds())
	if err == nil {
		return v
	}

	cause := "error"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
		cause = "timeout"
	}
	metrics.ModerationFallbacks.WithLabelValues(cause).Inc()
	g.log.Warn("remote moderation failed, using fallback",
		zap.String("cause", cause), zap.Error(err))
	return g.fallbackVerdict(ctx, text)
}

func (g *Gate) fallbackVerdict(ctx context.Context, text string) Verdict {
	v, err := g.fallback.Classify(ctx, text)
	if err != nil {
		// Only custom fallbacks can fail.
		g.log.Error("fallback moderation failed", zap.Error(err))
		return Clean
	}
	return v
}
