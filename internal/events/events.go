// Package events fans job record changes out to NATS subscribers and to
// in-process listeners such as websocket sessions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

// JobUpdated is the event type sent for every record change.
const JobUpdated = "job_update"

// Publisher receives every job update.
type Publisher interface {
	Publish(ctx context.Context, job models.Job) error
}

// NatsPublisher publishes updates as JSON on <prefix>.<job_id>.
type NatsPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNatsPublisher(conn *nats.Conn, prefix string) *NatsPublisher {
	return &NatsPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject carrying updates for one job.
func (p *NatsPublisher) Subject(jobID string) string {
	return p.prefix + "." + jobID
}

func (p *NatsPublisher) Publish(_ context.Context, job models.Job) error {
	payload, err := json.Marshal(models.JobEvent{Type: JobUpdated, Job: job})
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(job.JobID), payload); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}
	return nil
}

// Broker delivers updates to in-process subscribers of a job. Slow
// subscribers miss intermediate updates rather than blocking publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan models.Job]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan models.Job]struct{})}
}

// Subscribe returns a channel of updates for jobID and a cancel func that
// closes it.
func (b *Broker) Subscribe(jobID string) (<-chan models.Job, func()) {
	ch := make(chan models.Job, 16)
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan models.Job]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) Publish(_ context.Context, job models.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[job.JobID] {
		select {
		case ch <- job:
		default:
			slog.Debug("Dropping job update for slow subscriber.", "jobId", job.JobID)
		}
	}
	return nil
}

// Fanout forwards each update to every publisher; failures are logged.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, job models.Job) error {
	for _, p := range f {
		if err := p.Publish(ctx, job); err != nil {
			slog.Warn("Failed to publish job update.", "jobId", job.JobID, "error", err)
		}
	}
	return nil
}
