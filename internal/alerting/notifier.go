package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/logging"
)

// Kind names the operator-facing event.
type Kind string

const (
	KindAggregationTerminal  Kind = "aggregation_terminal"
	KindSubmissionFailed     Kind = "submission_failed"
	KindVerificationMismatch Kind = "verification_mismatch"
	KindSimulated            Kind = "simulated"
)

// Notification is one event requiring operator attention.
type Notification struct {
	Kind     Kind
	Time     time.Time
	Epoch    uint64
	JobID    int64
	Hash     string
	Detail   string
	Channels []string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Multi fans a notification out to every notifier; one failing channel
// does not stop the others.
type Multi struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewMulti returns a Multi over the non-nil notifiers.
func NewMulti(logger zerolog.Logger, notifiers ...Notifier) *Multi {
	m := &Multi{logger: logging.Component(logger, "alerting")}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len is the number of configured channels.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

func (m *Multi) Notify(ctx context.Context, note Notification) error {
	if note.Time.IsZero() {
		note.Time = time.Now().UTC()
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("notification delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[corridorwatch] %s\n", note.Kind))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Time.UTC().Format(time.RFC3339)))
	if note.Epoch > 0 {
		builder.WriteString(fmt.Sprintf("Epoch: %d\n", note.Epoch))
	}
	if note.JobID > 0 {
		builder.WriteString(fmt.Sprintf("Job: %d\n", note.JobID))
	}
	if note.Hash != "" {
		builder.WriteString(fmt.Sprintf("Hash: %s\n", note.Hash))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.Detail != "" {
		builder.WriteString(note.Detail)
	}
	return builder.String()
}

var _ Notifier = (*Multi)(nil)
