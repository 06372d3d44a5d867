// Package jetstream backs the pending-job queue with a NATS JetStream
// work stream, surviving master restarts. Requeue republishes, so a
// reclaimed job goes behind newer submissions; acceptable for the retry
// path since attempts are capped.
package jetstream

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"crucible/internal/config"
)

const (
	streamName = "JOBS"
	subject    = "jobs.pending"
	consumer   = "scheduler"
)

type JetStreamQueue struct {
	connection *nats.Conn
	sub        *nats.Subscription
	js         nats.JetStreamContext
	depth      atomic.Int64
}

func NewJetStreamQueue() (*JetStreamQueue, error) {
	cfg, err := config.GetNatsConfig()
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Name("crucible"),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, err
	}

	_, err = js.AddConsumer(streamName, &nats.ConsumerConfig{
		Durable:       consumer,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		DeliverPolicy: nats.DeliverAllPolicy,
	})
	if err != nil && !strings.Contains(err.Error(), "consumer name already in use") {
		nc.Close()
		return nil, err
	}

	sub, err := js.PullSubscribe(subject, consumer, nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &JetStreamQueue{
		connection: nc,
		js:         js,
		sub:        sub,
	}, nil
}

func (q *JetStreamQueue) Enqueue(ctx context.Context, jobID string) error {
	_, err := q.js.Publish(subject, []byte(jobID))
	if err == nil {
		q.depth.Add(1)
	}
	return err
}

func (q *JetStreamQueue) Requeue(ctx context.Context, jobID string) error {
	return q.Enqueue(ctx, jobID)
}

func (q *JetStreamQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		msgs, err := q.sub.Fetch(1, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				default:
					continue
				}
			}
			return "", err
		}
		msg := msgs[0]
		if err := msg.Ack(); err != nil {
			return "", err
		}
		q.depth.Add(-1)
		return string(msg.Data), nil
	}
}

func (q *JetStreamQueue) Depth() int {
	d := q.depth.Load()
	if d < 0 {
		return 0
	}
	return int(d)
}

func (q *JetStreamQueue) ShutDown(ctx context.Context) {
	q.connection.Drain()
	q.connection.Close()
}
