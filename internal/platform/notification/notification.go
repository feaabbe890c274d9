// Package notification delivers prescription decision outcomes and order
// updates to patients over email and SMS. Deliveries are recorded in memory
// so operators can inspect, list and retry them through the HTTP API.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery route for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Status tracks a notification through its delivery lifecycle. Skipped
// entries were never dispatched because the patient had no reachable
// contact; they are kept for the record but cannot be retried.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

var (
	ErrNotFound     = errors.New("notification not found")
	ErrNotRetryable = errors.New("notification is not in failed status")
)

// Notification is one outbound message and its delivery outcome.
type Notification struct {
	ID           uuid.UUID         `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// EmailSender delivers email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Manager sends notifications and keeps every attempt on record. Stored
// entries are immutable; updates such as a retry replace the entry, so
// pointers handed out earlier stay safe to read concurrently.
type Manager struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine

	// Record, when set, observes one delivery attempt per call. The server
	// wires it to the notifications counter.
	Record func(channel, result string)

	mu    sync.RWMutex
	byID  map[uuid.UUID]*Notification
	order []uuid.UUID
}

func NewManager(email EmailSender, sms SMSSender, templates *TemplateEngine) *Manager {
	return &Manager{
		email:     email,
		sms:       sms,
		templates: templates,
		byID:      make(map[uuid.UUID]*Notification),
	}
}

// Send dispatches n through its channel and stores the outcome. The returned
// notification always carries the final status; the error reports the send
// failure, if any.
func (m *Manager) Send(ctx context.Context, n Notification) (*Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = StatusPending

	sendErr := m.deliver(ctx, &n)
	if sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
	} else {
		n.Status = StatusSent
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}

	m.mu.Lock()
	m.byID[n.ID] = &n
	m.order = append(m.order, n.ID)
	m.mu.Unlock()

	m.record(string(n.Channel), string(n.Status))
	return &n, sendErr
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	switch n.Channel {
	case ChannelEmail:
		return m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelSMS:
		return m.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		return fmt.Errorf("unsupported channel %q", n.Channel)
	}
}

// SendFromTemplate renders the template and sends the result to recipient on
// the template's channel.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	tpl, ok := m.templates.Lookup(templateID)
	if !ok {
		return nil, fmt.Errorf("template %q not found", templateID)
	}
	subject, body := tpl.Render(data)
	return m.Send(ctx, Notification{
		Channel:      tpl.Channel,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	})
}

// RecordSkipped stores a notification that was never dispatched because no
// reachable contact existed.
func (m *Manager) RecordSkipped(n Notification) *Notification {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = StatusSkipped

	m.mu.Lock()
	m.byID[n.ID] = &n
	m.order = append(m.order, n.ID)
	m.mu.Unlock()

	m.record("none", string(StatusSkipped))
	return &n
}

// Get returns the notification with the given ID.
func (m *Manager) Get(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.RLock()
	n, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

// ListByRecipient returns the recipient's notifications newest first, along
// with the total match count for pagination.
func (m *Manager) ListByRecipient(_ context.Context, recipient string, limit, offset int) ([]*Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*Notification
	for i := len(m.order) - 1; i >= 0; i-- {
		n := m.byID[m.order[i]]
		if n.Recipient == recipient {
			matches = append(matches, n)
		}
	}

	total := len(matches)
	if offset >= total {
		return []*Notification{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}

// Retry re-sends a failed notification and stores the new outcome in its
// place. Notifications in any other status are not retryable.
func (m *Manager) Retry(ctx context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.RLock()
	cur, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Status != StatusFailed {
		return nil, fmt.Errorf("%w (current: %s)", ErrNotRetryable, cur.Status)
	}

	next := *cur
	sendErr := m.deliver(ctx, &next)
	if sendErr != nil {
		next.Status = StatusFailed
		next.Error = sendErr.Error()
	} else {
		next.Status = StatusSent
		sentAt := time.Now().UTC()
		next.SentAt = &sentAt
		next.Error = ""
	}

	m.mu.Lock()
	m.byID[id] = &next
	m.mu.Unlock()

	m.record(string(next.Channel), string(next.Status))
	return &next, sendErr
}

// Stats returns notification counts grouped by status.
func (m *Manager) Stats(_ context.Context) map[Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[Status]int)
	for _, n := range m.byID {
		stats[n.Status]++
	}
	return stats
}

func (m *Manager) record(channel, result string) {
	if m.Record != nil {
		m.Record(channel, result)
	}
}
