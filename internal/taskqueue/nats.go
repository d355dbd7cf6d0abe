package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/autorepair/autorepair/internal/incident"
	"github.com/autorepair/autorepair/internal/logfields"
)

const streamName = "AUTOREPAIR_TASKS"

// DefaultSubject is the subject NewNATSQueue publishes to and consumes from
// when the caller has no reason to pick another one.
const DefaultSubject = "autorepair.tasks"

// NATSQueue is a durable Queue backed by a JetStream stream with a single
// pull consumer, giving the Task Runner's queue a lifetime independent of
// the server process.
type NATSQueue struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	subject  string
	logger   *slog.Logger
}

// NewNATSQueue connects to url, ensuring the durable stream and consumer
// exist, and returns a Queue. Connection failures are returned rather than
// retried silently; callers should fall back to MemQueue if durability is
// not required for the deployment.
func NewNATSQueue(ctx context.Context, url, subject string, logger *slog.Logger) (*NATSQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("taskqueue: nats disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("taskqueue: nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("taskqueue: jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("taskqueue: create stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "task-runner",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("taskqueue: create consumer: %w", err)
	}

	return &NATSQueue{conn: conn, js: js, consumer: consumer, subject: subject, logger: logger}, nil
}

func (q *NATSQueue) Enqueue(ctx context.Context, job incident.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("taskqueue: marshal job: %w", err)
	}
	if _, err := q.js.Publish(ctx, q.subject, data); err != nil {
		return fmt.Errorf("taskqueue: publish: %w", err)
	}
	return nil
}

// Dequeue pulls and acknowledges a single message. Acking immediately (not
// after the job completes) matches the base contract's "no durability
// guarantee beyond acceptance" — a worker crash mid-job does not redeliver;
// the trace simply remains FAILED/RUNNING in the trace store for operator
// inspection, consistent with its cancellation model.
func (q *NATSQueue) Dequeue(ctx context.Context) (incident.Job, error) {
	msgs, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(30*time.Second))
	if err != nil {
		return incident.Job{}, fmt.Errorf("taskqueue: fetch: %w", err)
	}
	for msg := range msgs.Messages() {
		var job incident.Job
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			_ = msg.Nak()
			return incident.Job{}, fmt.Errorf("taskqueue: unmarshal job: %w", err)
		}
		if err := msg.Ack(); err != nil {
			q.logger.Warn("taskqueue: ack failed", logfields.Error(err))
		}
		return job, nil
	}
	if err := msgs.Error(); err != nil {
		return incident.Job{}, err
	}
	select {
	case <-ctx.Done():
		return incident.Job{}, ctx.Err()
	default:
		return incident.Job{}, fmt.Errorf("taskqueue: no message available")
	}
}

func (q *NATSQueue) Depth() int {
	info, err := q.consumer.Info(context.Background())
	if err != nil {
		return 0
	}
	return int(info.NumPending)
}

func (q *NATSQueue) Close() error {
	q.conn.Close()
	return nil
}
