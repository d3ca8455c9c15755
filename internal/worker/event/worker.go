// Package event persists the call event stream.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/softdialer/internal/domain"
	"github.com/acme/softdialer/internal/queue"
	"github.com/acme/softdialer/internal/repository"
	"github.com/acme/softdialer/pkg/logger"
)

var tracer = otel.Tracer("softdialer.eventworker")

const fetchBackoff = time.Second

// MessageReader is the consumer side of the event topic.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Worker appends every call event to the history store and keeps the call
// record of finished customer calls current.
type Worker struct {
	reader  MessageReader
	events  repository.CallEventStore
	records repository.CallRecordRepository
	logger  *logger.Logger
	backoff time.Duration
}

// New creates an event worker.
func New(reader MessageReader, events repository.CallEventStore, records repository.CallRecordRepository, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{reader: reader, events: events, records: records, logger: log, backoff: fetchBackoff}
}

// Run processes events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer func() { _ = w.reader.Close() }()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("event worker: fetch", zap.Error(err), zap.Duration("retry_in", w.backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff):
			}
			continue
		}

		if err := w.Handle(ctx, msg.Value); err != nil {
			// Uncommitted; redelivered on restart unless a later offset is committed first.
			w.logger.Error("event worker: handle",
				zap.String("key", string(msg.Key)),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Error("event worker: commit", zap.Error(err))
		}
	}
}

// Handle persists one encoded call event. Malformed payloads are logged and
// dropped.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var msg queue.CallEventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		w.logger.Warn("event worker: unmarshal", zap.Error(err))
		return nil
	}
	if msg.ProviderCallID == "" {
		w.logger.Warn("event worker: event without call sid", zap.String("event_id", msg.EventID.String()))
		return nil
	}

	ctx, span := tracer.Start(ctx, "call.event", trace.WithAttributes(
		attribute.String("call.sid", msg.ProviderCallID),
		attribute.String("call.event", msg.Event),
		attribute.String("call.state", msg.State),
	))
	defer span.End()

	ev := msg.Record()
	if err := w.events.Append(ctx, ev); err != nil {
		span.RecordError(err)
		return fmt.Errorf("event worker: append: %w", err)
	}

	if !ev.State.Terminal() || ev.Leg != domain.CallLegCustomer {
		return nil
	}

	record := summarize(ev)
	if err := w.records.UpsertByProviderCall(ctx, &record); err != nil {
		span.RecordError(err)
		return fmt.Errorf("event worker: upsert record: %w", err)
	}
	w.logger.WithContext(ctx).Debug("event worker: call finished",
		zap.String("call_sid", ev.ProviderCallID),
		zap.String("state", string(ev.State)),
	)
	return nil
}

// summarize builds the call record of a finished customer leg. The caller
// number is the customer side of the call.
func summarize(ev domain.CallEventRecord) domain.CallRecord {
	caller := ev.To
	if ev.Direction == domain.CallDirectionInbound {
		caller = ev.From
	}
	sid := ev.ProviderCallID
	record := domain.CallRecord{
		CallerNumber:   caller,
		Status:         string(ev.State),
		ProviderCallID: &sid,
		Timestamp:      ev.OccurredAt,
	}
	if ev.Duration > 0 {
		d := ev.Duration
		record.DurationSeconds = &d
	}
	if ev.AgentID != "" {
		agent := ev.AgentID
		record.AgentID = &agent
	}
	return record
}
