package notification

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestDispatcher() (*Dispatcher, *stubEmailSender, *stubSMSSender, *Manager) {
	mgr, email, sms := newTestManager()
	return NewDispatcher(mgr, zerolog.Nop()), email, sms, mgr
}

func strPtr(s string) *string { return &s }

func TestDispatcher_EmailPreferred(t *testing.T) {
	d, email, sms, _ := newTestDispatcher()

	n, err := d.Notify(context.Background(), Decision{
		PrescriptionID: uuid.New(),
		OrderID:        uuid.New(),
		PatientID:      "patient-1",
		Email:          strPtr("ada@example.com"),
		Phone:          strPtr("+2348012345678"),
		Outcome:        "verified",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.Channel != ChannelEmail {
		t.Errorf("channel = %q, want email", n.Channel)
	}
	if len(email.sent()) != 1 {
		t.Errorf("email calls = %d, want 1", len(email.sent()))
	}
	if len(sms.sent()) != 0 {
		t.Errorf("sms calls = %d, want 0", len(sms.sent()))
	}
}

func TestDispatcher_SMSFallback(t *testing.T) {
	d, email, sms, _ := newTestDispatcher()
	rxID := uuid.New()

	n, err := d.Notify(context.Background(), Decision{
		PrescriptionID: rxID,
		OrderID:        uuid.New(),
		PatientID:      "patient-1",
		Phone:          strPtr("+2348012345678"),
		Outcome:        "rejected",
		Reason:         "illegible image",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.Channel != ChannelSMS {
		t.Errorf("channel = %q, want sms", n.Channel)
	}
	if len(email.sent()) != 0 {
		t.Errorf("email calls = %d, want 0", len(email.sent()))
	}
	calls := sms.sent()
	if len(calls) != 1 {
		t.Fatalf("sms calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].body, "illegible image") {
		t.Errorf("sms body missing reason: %q", calls[0].body)
	}
	if !strings.Contains(calls[0].body, rxID.String()) {
		t.Errorf("sms body missing prescription id: %q", calls[0].body)
	}
}

func TestDispatcher_NoContactSkipped(t *testing.T) {
	d, email, sms, mgr := newTestDispatcher()

	n, err := d.Notify(context.Background(), Decision{
		PrescriptionID: uuid.New(),
		OrderID:        uuid.New(),
		PatientID:      "patient-1",
		Outcome:        "verified",
	})
	if err != nil {
		t.Fatalf("skipped dispatch must not error, got %v", err)
	}
	if n.Status != StatusSkipped {
		t.Errorf("status = %q, want skipped", n.Status)
	}
	if len(email.sent()) != 0 || len(sms.sent()) != 0 {
		t.Error("no channel should have been used")
	}
	if stats := mgr.Stats(context.Background()); stats[StatusSkipped] != 1 {
		t.Errorf("stats = %v, want one skipped", stats)
	}
}

func TestDispatcher_SendFailureReturned(t *testing.T) {
	d, email, _, _ := newTestDispatcher()
	email.setErr(errors.New("smtp unreachable"))

	n, err := d.Notify(context.Background(), Decision{
		PrescriptionID: uuid.New(),
		OrderID:        uuid.New(),
		PatientID:      "patient-1",
		Email:          strPtr("ada@example.com"),
		Outcome:        "verified",
	})
	if err == nil {
		t.Fatal("expected send error")
	}
	if n == nil || n.Status != StatusFailed {
		t.Errorf("notification = %+v, want failed status", n)
	}
}

func TestDispatcher_ExpiredOutcomeTemplate(t *testing.T) {
	d, email, _, _ := newTestDispatcher()

	_, err := d.Notify(context.Background(), Decision{
		PrescriptionID: uuid.New(),
		OrderID:        uuid.New(),
		PatientID:      "patient-1",
		Email:          strPtr("ada@example.com"),
		Outcome:        "expired",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	calls := email.sent()
	if len(calls) != 1 {
		t.Fatalf("email calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].subject, "expired") {
		t.Errorf("subject = %q, want expiry wording", calls[0].subject)
	}
}

func TestLogSenders(t *testing.T) {
	logEmail := NewLogEmailSender(zerolog.Nop())
	if err := logEmail.SendEmail(context.Background(), "a@b.co", "subject", "body"); err != nil {
		t.Errorf("log email sender must not fail: %v", err)
	}
	logSMS := NewLogSMSSender(zerolog.Nop())
	if err := logSMS.SendSMS(context.Background(), "+2348012345678", "body"); err != nil {
		t.Errorf("log sms sender must not fail: %v", err)
	}
}
