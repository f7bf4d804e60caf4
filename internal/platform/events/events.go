// Package events publishes workflow notifications. Publishing is best
// effort: a failed publish is logged and never fails the operation that
// produced the event.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types emitted by the workflow services.
const (
	CredentialRequested = "credential.requested"
	CredentialApproved  = "credential.approved"
	RecordCreated       = "record.created"
	RecordDecided       = "record.decided"
	InsuranceBound      = "insurance.bound"
	PolicyRequested     = "policy.requested"
	PolicyDecided       = "policy.decided"
	ClaimRaised         = "claim.raised"
	ClaimDecided        = "claim.decided"
)

type Event struct {
	Type       string            `json:"type"`
	Subject    string            `json:"subject"`
	Actor      string            `json:"actor"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emit publishes e on p, stamping OccurredAt when unset. A nil publisher is
// a no-op.
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, e Event) {
	if p == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn().Err(err).
			Str("event", e.Type).
			Str("subject", e.Subject).
			Msg("failed to publish event")
	}
}

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	evt := p.logger.Info().
		Str("event", e.Type).
		Str("subject", e.Subject).
		Str("actor", e.Actor).
		Time("occurred_at", e.OccurredAt)
	if len(e.Attributes) > 0 {
		d := zerolog.Dict()
		for k, v := range e.Attributes {
			d = d.Str(k, v)
		}
		evt = evt.Dict("attributes", d)
	}
	evt.Msg("workflow event")
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of each published event in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
