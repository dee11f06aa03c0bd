package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ordercore/internal/bus"
	"ordercore/internal/events"
)

const pollBatch = 100

// Pump moves committed outbox rows onto the bus. Publish-then-mark means a
// crash between the two republishes the row; consumers dedupe on eventId.
type Pump struct {
	Store     Store
	Publisher bus.Publisher
	Log       *zap.SugaredLogger
	Interval  time.Duration

	closeCh chan struct{}
}

func NewPump(store Store, pub bus.Publisher, log *zap.SugaredLogger, interval time.Duration) *Pump {
	return &Pump{
		Store:     store,
		Publisher: pub,
		Log:       log,
		Interval:  interval,
		closeCh:   make(chan struct{}),
	}
}

func (p *Pump) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		t := time.NewTicker(p.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				// final sweep so shutdown does not strand committed events
				flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if _, err := p.RunOnce(flushCtx); err != nil {
					p.Log.Warnw("outbox flush on shutdown failed", "error", err)
				}
				cancel()
				return
			case <-t.C:
				if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
					p.Log.Errorw("outbox pump pass failed", "error", err)
				}
			}
		}
	}()
}

// RunOnce publishes one batch and reports how many rows were settled.
// A publish error stops the pass; remaining rows go out next tick.
func (p *Pump) RunOnce(ctx context.Context) (int, error) {
	rows, err := p.Store.PollUnpublished(ctx, pollBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rows {
		msg := bus.Message{
			Topic: r.Topic,
			Key:   r.PartitionKey,
			Value: r.Payload,
			Headers: map[string]string{
				events.HeaderEventType: r.EventType,
				events.HeaderMessageID: r.EventID,
			},
		}
		if err := p.Publisher.Publish(ctx, msg); err != nil {
			return n, err
		}
		if err := p.Store.MarkPublished(ctx, r.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (p *Pump) WaitClosed() { <-p.closeCh }
