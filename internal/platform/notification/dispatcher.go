package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Decision carries a reviewed prescription outcome to the patient-facing
// channels. One Decision maps to one notification on the best available
// channel.
type Decision struct {
	PrescriptionID uuid.UUID
	OrderID        uuid.UUID
	PatientID      string
	Email          *string
	Phone          *string
	Outcome        string // verified, rejected or expired
	Reason         string
}

// Dispatcher renders and sends decision notifications. Email wins when both
// contacts exist, SMS is the fallback, and a decision with neither contact
// is recorded as skipped rather than failed.
type Dispatcher struct {
	manager *Manager
	log     zerolog.Logger
}

func NewDispatcher(manager *Manager, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{manager: manager, log: log}
}

// Notify dispatches one decision. The returned notification always carries
// the dispatch outcome; the error is non-nil only when a real send was
// attempted and failed.
func (d *Dispatcher) Notify(ctx context.Context, dec Decision) (*Notification, error) {
	templateID := "prescription-" + dec.Outcome
	data := map[string]string{
		"prescription_id": dec.PrescriptionID.String(),
		"order_id":        dec.OrderID.String(),
		"reason":          dec.Reason,
	}

	switch {
	case dec.Email != nil && *dec.Email != "":
		n, err := d.manager.SendFromTemplate(ctx, templateID, data, *dec.Email)
		if err != nil {
			d.log.Warn().Err(err).
				Str("prescription_id", dec.PrescriptionID.String()).
				Str("channel", "email").
				Msg("decision notification failed")
		}
		return n, err

	case dec.Phone != nil && *dec.Phone != "":
		_, body, err := d.manager.templates.Render(templateID, data)
		if err != nil {
			return nil, err
		}
		n, err := d.manager.Send(ctx, Notification{
			Channel:      ChannelSMS,
			Recipient:    *dec.Phone,
			Body:         body,
			TemplateID:   templateID,
			TemplateData: data,
		})
		if err != nil {
			d.log.Warn().Err(err).
				Str("prescription_id", dec.PrescriptionID.String()).
				Str("channel", "sms").
				Msg("decision notification failed")
		}
		return n, err

	default:
		n := d.manager.RecordSkipped(Notification{
			TemplateID:   templateID,
			TemplateData: data,
			Metadata:     map[string]string{"patient_id": dec.PatientID},
		})
		d.log.Info().
			Str("prescription_id", dec.PrescriptionID.String()).
			Str("patient_id", dec.PatientID).
			Msg("no reachable contact, notification skipped")
		return n, nil
	}
}
