package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"ingestctl/internal/jobstore"
)

// wakeMessage is the non-durable notification published when a job becomes
// approved, so idle schedulers can claim it sooner than the next poll tick.
type wakeMessage struct {
	JobID    string `json:"job_id"`
	Ontology string `json:"ontology"`
}

// wakePublisher is the optional Kafka wake channel. It is entirely an
// optimization: losing a message only costs the claim loop's poll interval,
// never correctness, since ClaimNext is the single source of truth for what
// is actually claimable.
type wakePublisher struct {
	writer *kafka.Writer
	reader *kafka.Reader
	notify chan struct{}
}

// NewWakePublisher wires a producer (for this process's approvals) and a
// consumer (to notice other processes' approvals), grounded on the
// teacher's StartKafkaConsumer/HandleCommandMessage reader+writer pairing
// but simplified: there is nothing to dedupe or commit transactionally
// since missed notifications just fall back to polling.
func NewWakePublisher(ctx context.Context, brokers []string, topic, groupID string) *wakePublisher {
	w := &wakePublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 1e6,
		}),
		notify: make(chan struct{}, 1),
	}
	go w.consumeLoop(ctx)
	return w
}

func (w *wakePublisher) notifications() <-chan struct{} { return w.notify }

func (w *wakePublisher) publish(ctx context.Context, job jobstore.Job) {
	payload, err := json.Marshal(wakeMessage{JobID: job.ID, Ontology: job.Ontology})
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := w.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(job.ID), Value: payload}); err != nil {
		log.Printf("scheduler: wake publish failed for job %s: %v", job.ID, err)
	}
}

func (w *wakePublisher) consumeLoop(ctx context.Context) {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		select {
		case w.notify <- struct{}{}:
		default:
		}
		// Consumer-group offset commits are the durability mechanism Kafka
		// gives us for free; a missed commit just means a redundant wake on
		// the next restart, never a missed job (ClaimNext re-checks truth).
		_ = w.reader.CommitMessages(ctx, msg)
	}
}

func (w *wakePublisher) Close() error {
	_ = w.reader.Close()
	return w.writer.Close()
}
