package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ordercore/internal/bus"
	"ordercore/internal/events"
)

// Reporter periodically publishes a counter snapshot to the system-metrics
// topic. Fire and forget: a missed interval is not worth an outbox row.
type Reporter struct {
	Metrics   *Metrics
	Publisher bus.Publisher
	Log       *zap.SugaredLogger
	Service   string
	Interval  time.Duration

	closeCh chan struct{}
}

func NewReporter(m *Metrics, pub bus.Publisher, log *zap.SugaredLogger, service string, interval time.Duration) *Reporter {
	return &Reporter{
		Metrics:   m,
		Publisher: pub,
		Log:       log,
		Service:   service,
		Interval:  interval,
		closeCh:   make(chan struct{}),
	}
}

func (r *Reporter) Start(ctx context.Context) {
	go func() {
		defer close(r.closeCh)
		t := time.NewTicker(r.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := r.publishOnce(ctx); err != nil && ctx.Err() == nil {
					r.Log.Warnw("metrics publish failed", "error", err)
				}
			}
		}
	}()
}

func (r *Reporter) publishOnce(ctx context.Context) error {
	stats, err := r.Metrics.Snapshot()
	if err != nil {
		return err
	}
	env, err := events.New(events.TypeSystemMetrics, r.Service, "", events.SystemMetrics{
		Service: r.Service,
		Stats:   stats,
	})
	if err != nil {
		return err
	}
	payload, err := events.Marshal(env)
	if err != nil {
		return err
	}
	return r.Publisher.Publish(ctx, bus.Message{
		Topic: events.TopicSystemMetrics,
		Key:   []byte(r.Service),
		Value: payload,
		Headers: map[string]string{
			events.HeaderEventType: env.EventType,
			events.HeaderMessageID: env.EventID,
		},
	})
}

func (r *Reporter) WaitClosed() { <-r.closeCh }
