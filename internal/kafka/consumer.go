package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ordercore/internal/bus"
)

const (
	handlerAttempts = 3
	retryBackoff    = 200 * time.Millisecond
	restartBackoff  = time.Second
)

// GroupConsumer reads one topic as one consumer group with manual commits.
// Messages are processed in order; the offset is committed only after the
// handler succeeds, so a crash between handle and commit redelivers.
type GroupConsumer struct {
	brokers []string
	group   string
	topic   string
	log     *zap.SugaredLogger

	closeCh chan struct{}
}

func NewGroupConsumer(brokers []string, group, topic string, log *zap.SugaredLogger) *GroupConsumer {
	return &GroupConsumer{
		brokers: brokers,
		group:   group,
		topic:   topic,
		log:     log,
		closeCh: make(chan struct{}),
	}
}

func (c *GroupConsumer) newReader() *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.brokers,
		GroupID:        c.group,
		Topic:          c.topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
}

// Start runs the consume loop in a goroutine. When a handler keeps failing
// the reader is closed and recreated, which resumes from the last committed
// offset and redelivers the failed message.
func (c *GroupConsumer) Start(ctx context.Context, h bus.Handler) {
	go func() {
		defer close(c.closeCh)
		for {
			r := c.newReader()
			err := c.consume(ctx, r, h)
			_ = r.Close()
			if ctx.Err() != nil {
				return
			}
			c.log.Errorw("consumer restarting", "topic", c.topic, "group", c.group, "error", err)
			select {
			case <-time.After(restartBackoff):
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *GroupConsumer) consume(ctx context.Context, r *kafka.Reader, h bus.Handler) error {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			return err
		}
		if err := c.handleWithRetry(ctx, h, m); err != nil {
			return err
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			return err
		}
	}
}

func (c *GroupConsumer) handleWithRetry(ctx context.Context, h bus.Handler, m kafka.Message) error {
	headers := make(map[string]string, len(m.Headers))
	for _, hd := range m.Headers {
		headers[hd.Key] = string(hd.Value)
	}
	msg := bus.Message{Topic: m.Topic, Key: m.Key, Value: m.Value, Headers: headers}

	var err error
	for attempt := 1; attempt <= handlerAttempts; attempt++ {
		if err = h(ctx, msg); err == nil {
			return nil
		}
		c.log.Warnw("handler failed", "topic", c.topic, "attempt", attempt, "error", err)
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// WaitClosed blocks until the consume goroutine has exited.
func (c *GroupConsumer) WaitClosed() { <-c.closeCh }
