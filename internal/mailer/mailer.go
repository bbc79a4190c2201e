// Package mailer delivers account emails.
package mailer

import (
	"context"
	"sync"

	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
)

type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindRecovery     Kind = "recovery"
)

// Message is an account email carrying a single action link.
type Message struct {
	Kind Kind
	To   string
	Link string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	logger.Infof("mailer: %s mail to %s: %s", msg.Kind, msg.To, msg.Link)
	return nil
}

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

func (r *Recorder) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// Last returns the most recent message of kind, if any.
func (r *Recorder) Last(kind Kind) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind == kind {
			return r.sent[i], true
		}
	}
	return Message{}, false
}
