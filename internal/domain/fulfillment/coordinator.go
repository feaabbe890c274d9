// Package fulfillment applies pharmacist verification decisions to
// prescriptions and cascades each decision, in one transaction, to the
// orders gated behind it: stock back to provider offers on rejection, order
// status forward on verification. Patient notifications and realtime events
// go out after commit and are best-effort.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxgate/rxgate/internal/domain/catalog"
	"github.com/rxgate/rxgate/internal/domain/order"
	"github.com/rxgate/rxgate/internal/domain/prescription"
	"github.com/rxgate/rxgate/internal/platform/notification"
	"github.com/rxgate/rxgate/internal/platform/realtime"
)

// PrescriptionStore is the slice of the prescription service the coordinator
// needs. Satisfied by prescription.Service.
type PrescriptionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)
	SetStatusIfPending(ctx context.Context, id uuid.UUID, status string, reason *string) error
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]*prescription.Prescription, error)
}

// OrderStore is the slice of the order service the cascade touches.
// Satisfied by order.Service.
type OrderStore interface {
	ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*order.Order, error)
	ListReservedItems(ctx context.Context, orderID uuid.UUID) ([]*order.ReservedItem, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// StockReleaser returns reserved units to provider offers. Satisfied by
// provider.Service.
type StockReleaser interface {
	ReleaseStock(ctx context.Context, offerID uuid.UUID, qty int) error
}

// Notifier dispatches one decision notification to the patient. Satisfied by
// notification.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, dec notification.Decision) (*notification.Notification, error)
}

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DecisionMetrics counts committed decisions and the order moves they cause.
// Satisfied by telemetry.Provider.
type DecisionMetrics interface {
	CountDecision(outcome string)
	CountOrderTransition(status string)
}

// Coordinator is the single writer of prescription verification outcomes.
// notifier and events may be nil; the decision then commits without
// post-commit dispatch.
type Coordinator struct {
	prescriptions PrescriptionStore
	orders        OrderStore
	stock         StockReleaser
	notifier      Notifier
	events        realtime.EventPublisher
	tx            TxRunner
	policy        RejectPolicy
	log           zerolog.Logger

	// Metrics, when set, observes each committed decision. Assigned once
	// during wiring, before the coordinator serves requests.
	Metrics DecisionMetrics
}

func NewCoordinator(prescriptions PrescriptionStore, orders OrderStore, stock StockReleaser, notifier Notifier, events realtime.EventPublisher, tx TxRunner, policy RejectPolicy, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		prescriptions: prescriptions,
		orders:        orders,
		stock:         stock,
		notifier:      notifier,
		events:        events,
		tx:            tx,
		policy:        policy,
		log:           log,
	}
}

// Decide records a reviewer's verdict on a pending prescription and cascades
// it to every linked order inside one transaction. The status write is
// conditional on the row still being pending, so of two concurrent decisions
// exactly one wins and the loser gets ErrAlreadyProcessed. Rejections move
// orders to the configured rejection state and put reserved medication stock
// back on the offers; verifications confirm the orders. Notification and
// event delivery happen after commit and cannot fail the call.
func (c *Coordinator) Decide(ctx context.Context, prescriptionID uuid.UUID, decision, reason string) (*Result, error) {
	p, err := c.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if decision != DecisionVerified && decision != DecisionRejected {
		return nil, ErrInvalidDecision
	}
	reason = strings.TrimSpace(reason)
	if decision == DecisionRejected && reason == "" {
		return nil, ErrReasonRequired
	}
	if p.Status != prescription.StatusPending {
		return nil, prescription.ErrAlreadyProcessed
	}

	var reasonPtr *string
	if decision == DecisionRejected {
		reasonPtr = &reason
	}

	var affected []*order.Order
	err = c.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := c.prescriptions.SetStatusIfPending(ctx, prescriptionID, decision, reasonPtr); err != nil {
			return err
		}
		list, err := c.cascade(ctx, prescriptionID, decision == DecisionRejected)
		if err != nil {
			return err
		}
		affected = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.Status = decision
	res := &Result{
		PrescriptionID: prescriptionID,
		Status:         decision,
		Orders:         make([]OrderChange, 0, len(affected)),
	}
	for _, o := range affected {
		res.Orders = append(res.Orders, OrderChange{OrderID: o.ID, Status: o.Status})
	}

	c.countOutcome(decision, affected)
	c.publishPrescriptionEvent(ctx, p, reason)
	res.NotificationFailures = c.fanOut(ctx, p, affected, decision, reason)
	return res, nil
}

// cascade moves every order linked to the prescription to its next state.
// Rejected decisions release medication reservations first; both writes ride
// the caller's transaction.
func (c *Coordinator) cascade(ctx context.Context, prescriptionID uuid.UUID, rejected bool) ([]*order.Order, error) {
	orders, err := c.orders.ListByPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	next := order.StatusConfirmed
	if rejected {
		next = c.policy.orderStatus()
	}
	for _, o := range orders {
		if rejected {
			if err := c.releaseReservations(ctx, o.ID); err != nil {
				return nil, err
			}
		}
		if err := c.orders.UpdateStatus(ctx, o.ID, next); err != nil {
			return nil, err
		}
		o.Status = next
	}
	return orders, nil
}

// countOutcome records one decision and the per-order status moves it caused.
func (c *Coordinator) countOutcome(outcome string, affected []*order.Order) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.CountDecision(outcome)
	for _, o := range affected {
		c.Metrics.CountOrderTransition(o.Status)
	}
}

// releaseReservations puts reserved quantities back on the offers they came
// from. Only medication-kind items carried a stock decrement; service items
// never touch stock.
func (c *Coordinator) releaseReservations(ctx context.Context, orderID uuid.UUID) error {
	reserved, err := c.orders.ListReservedItems(ctx, orderID)
	if err != nil {
		return err
	}
	for _, it := range reserved {
		if it.CatalogKind != catalog.KindMedication {
			continue
		}
		if err := c.stock.ReleaseStock(ctx, it.OfferID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// fanOut dispatches one notification and one order.updated event per
// affected order, each in its own goroutine so a slow or failing channel
// cannot hold up the rest. Failures are logged and collected, never raised.
func (c *Coordinator) fanOut(ctx context.Context, p *prescription.Prescription, orders []*order.Order, outcome, reason string) []NotificationFailure {
	if len(orders) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []NotificationFailure
	)
	for _, o := range orders {
		wg.Add(1)
		go func(o *order.Order) {
			defer wg.Done()
			c.publishOrderEvent(ctx, p.PatientID, o)
			if c.notifier == nil {
				return
			}
			_, err := c.notifier.Notify(ctx, notification.Decision{
				PrescriptionID: p.ID,
				OrderID:        o.ID,
				PatientID:      p.PatientID,
				Email:          p.ContactEmail,
				Phone:          p.ContactPhone,
				Outcome:        outcome,
				Reason:         reason,
			})
			if err != nil {
				c.log.Warn().Err(err).
					Str("prescription_id", p.ID.String()).
					Str("order_id", o.ID.String()).
					Msg("decision notification failed")
				mu.Lock()
				failures = append(failures, NotificationFailure{OrderID: o.ID, Error: err.Error()})
				mu.Unlock()
			}
		}(o)
	}
	wg.Wait()
	return failures
}

func (c *Coordinator) publishPrescriptionEvent(ctx context.Context, p *prescription.Prescription, reason string) {
	if c.events == nil {
		return
	}
	data, _ := json.Marshal(struct {
		PrescriptionID string `json:"prescription_id"`
		PatientID      string `json:"patient_id"`
		Status         string `json:"status"`
		Reason         string `json:"reason,omitempty"`
	}{p.ID.String(), p.PatientID, p.Status, reason})

	ev := realtime.Event{
		Type:     "prescription." + p.Status,
		EntityID: p.ID.String(),
		Data:     data,
	}
	for _, topic := range []string{realtime.PatientTopic(p.PatientID), realtime.TopicPrescriptions} {
		ev.Topic = topic
		if err := c.events.Publish(ctx, ev); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("publish prescription event failed")
		}
	}
}

func (c *Coordinator) publishOrderEvent(ctx context.Context, patientID string, o *order.Order) {
	if c.events == nil {
		return
	}
	data, _ := json.Marshal(struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}{o.ID.String(), o.Status})

	ev := realtime.Event{
		Type:     "order.updated",
		Topic:    realtime.PatientTopic(patientID),
		EntityID: o.ID.String(),
		Data:     data,
	}
	if err := c.events.Publish(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("order_id", o.ID.String()).Msg("publish order event failed")
	}
}

// ExpireStale expires every pending prescription created before
// now-olderThan and runs the rejection cascade for its linked orders. Each
// prescription gets its own transaction so one failure cannot hold back the
// sweep; a prescription a reviewer decides mid-sweep is skipped, not an
// error.
func (c *Coordinator) ExpireStale(ctx context.Context, olderThan time.Duration) (*ExpireResult, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	stale, err := c.prescriptions.ListPendingCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	res := &ExpireResult{Scanned: len(stale)}
	for _, p := range stale {
		var affected []*order.Order
		err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
			if err := c.prescriptions.SetStatusIfPending(ctx, p.ID, prescription.StatusExpired, nil); err != nil {
				return err
			}
			list, err := c.cascade(ctx, p.ID, true)
			if err != nil {
				return err
			}
			affected = list
			return nil
		})
		switch {
		case errors.Is(err, prescription.ErrAlreadyProcessed):
			res.Skipped++
			continue
		case err != nil:
			res.Failed++
			c.log.Error().Err(err).Str("prescription_id", p.ID.String()).Msg("expire failed")
			continue
		}

		res.Expired++
		p.Status = prescription.StatusExpired
		c.countOutcome(prescription.StatusExpired, affected)
		c.publishPrescriptionEvent(ctx, p, "")
		res.NotificationFailures = append(res.NotificationFailures,
			c.fanOut(ctx, p, affected, prescription.StatusExpired, "")...)
	}
	return res, nil
}
