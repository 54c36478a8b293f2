// Package queue is the ingestion job queue: the Orchestrator publishes one
// IngestJob per uploaded document, and the Ingestion Worker subscribes to
// consume them. Built directly on pkg/natsutil's typed pub/sub so trace
// context survives the hop between processes.
package queue

import (
	"context"

	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject carries newly uploaded documents awaiting processing.
	IngestSubject = "mevzuatgpt.ingest"
	// DLQSubject receives jobs that exhausted their retry budget.
	DLQSubject = "mevzuatgpt.ingest.dlq"
)

// IngestJob is the message published when a document is ready for the
// ingestion pipeline.
type IngestJob struct {
	DocumentID string
	Attempt    int
}

// Queue wraps a NATS connection with the ingest subject's typed helpers.
type Queue struct {
	nc *nats.Conn
}

// Connect dials the NATS server at url.
func Connect(url string) (*Queue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Queue{nc: nc}, nil
}

// NewWithConn wraps a pre-connected client, used by tests against an
// embedded NATS server.
func NewWithConn(nc *nats.Conn) *Queue { return &Queue{nc: nc} }

// Close closes the connection without draining subscriptions first.
func (q *Queue) Close() {
	q.nc.Close()
}

// Publish enqueues a document for ingestion.
func (q *Queue) Publish(ctx context.Context, job IngestJob) error {
	return natsutil.Publish(ctx, q.nc, IngestSubject, job)
}

// PublishDLQ moves a job that exhausted retries to the dead-letter subject.
func (q *Queue) PublishDLQ(ctx context.Context, job IngestJob) error {
	return natsutil.Publish(ctx, q.nc, DLQSubject, job)
}

// Subscribe registers handler to run for every ingest job. Malformed
// messages are dropped by natsutil.Subscribe before handler ever sees them.
func (q *Queue) Subscribe(handler func(context.Context, IngestJob)) (*nats.Subscription, error) {
	return natsutil.Subscribe(q.nc, IngestSubject, handler)
}
