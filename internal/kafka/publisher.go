package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"ordercore/internal/bus"
)

// Publisher writes to any topic through one shared writer. Writes are
// synchronous with RequireAll acks: the outbox pump must not mark a row
// published until the broker has the message.
type Publisher struct {
	brokers []string
	w       *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		brokers: brokers,
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, m bus.Message) error {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Time:    time.Now(),
		Headers: headers,
	})
}

// Ping dials the first broker. Used by health checks.
func (p *Publisher) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return nil
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *Publisher) Close() error { return p.w.Close() }

var _ bus.Publisher = (*Publisher)(nil)
