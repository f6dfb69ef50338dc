package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/metrics"
)

// Instrumented decorates a Gateway with metrics and failure logging.
type Instrumented struct {
	next      Gateway
	collector *metrics.Collector
	logger    *zap.Logger
}

// Instrument wraps next. A nil collector only logs.
func Instrument(next Gateway, collector *metrics.Collector, logger *zap.Logger) *Instrumented {
	return &Instrumented{
		next:      next,
		collector: collector,
		logger:    logger.With(zap.String("component", "gateway"), zap.String("provider", next.Name())),
	}
}

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) Complete(ctx context.Context, transcript []llm.Message) (string, error) {
	start := time.Now()
	reply, err := i.next.Complete(ctx, transcript)
	i.observe(OpComplete, err, time.Since(start))
	return reply, err
}

func (i *Instrumented) Judge(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	reply, err := i.next.Judge(ctx, prompt)
	i.observe(OpJudge, err, time.Since(start))
	return reply, err
}

func (i *Instrumented) observe(op string, err error, d time.Duration) {
	i.collector.ObserveGateway(i.next.Name(), op, err, d)
	if err != nil {
		i.logger.Warn("gateway call failed",
			zap.String("op", op),
			zap.Duration("duration", d),
			zap.Error(err),
		)
	}
}
