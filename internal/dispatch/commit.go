package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/chatdesk/internal/docstore"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/metrics"
	"github.com/ashureev/chatdesk/internal/session"
)

// commit runs the confirmed mutation at most once per (chat, user).
// Concurrent duplicates are acknowledged without a reply. Duplicates that
// arrive after the first delivery finished find the session cleared.
func (d *Dispatcher) commit(ctx context.Context, t turn, act Action) error {
	if !d.inflight.TryAcquire(t.key) {
		metrics.RecordDuplicateMutation()
		d.logger.Info("duplicate mutation ignored", "chat_id", t.key.ChatID, "user_id", t.key.UserID)
		return nil
	}
	defer d.inflight.Release(t.key)

	sess, ok := d.sessions.Get(t.key)
	if !ok || sess.Step != session.StepConfirm || sess.Token != act.Token {
		metrics.RecordDuplicateMutation()
		d.logger.Info("mutation already handled", "chat_id", t.key.ChatID, "user_id", t.key.UserID)
		return nil
	}

	target, _ := session.TargetOf(sess.Payload)
	if _, err := d.docs.GetEntity(ctx, target.Entity.ID); err != nil {
		return d.mutationFailed(ctx, t, target.Entity, "get_entity", err)
	}
	op, done, err := d.mutate(ctx, sess.Payload)
	metrics.RecordMutation(op, err)
	if err != nil {
		return d.mutationFailed(ctx, t, target.Entity, op, err)
	}

	d.logger.Info("mutation committed",
		"op", op,
		"chat_id", t.key.ChatID,
		"user_id", t.key.UserID,
		"entity_id", target.Entity.ID,
	)
	d.recent.Touch(ctx, t.key.UserID, target.Entity)
	d.sessions.Clear(t.key)
	return d.showMenu(ctx, t, done)
}

// mutate performs the document-store call a confirm step stands for and
// returns the operation name and a summary of the result.
func (d *Dispatcher) mutate(ctx context.Context, p session.Payload) (string, string, error) {
	switch v := p.(type) {
	case session.OrderCreatePayload:
		orders, err := d.docs.CreateOrders(ctx, domain.OrderRequest{EntityID: v.Entity.ID, Category: v.Category, Count: v.Count})
		if err != nil {
			return "create_orders", "", err
		}
		return "create_orders", fmt.Sprintf("Created %d %s order(s) for %s.", len(orders), v.Category.Label(), v.Entity.Name), nil

	case session.AddFilesPayload:
		order, err := d.docs.AddFiles(ctx, v.Entity.ID, v.Count)
		if err != nil {
			return "add_files", "", err
		}
		return "add_files", fmt.Sprintf("Added %d files for %s. The order now has %d.", v.Count, v.Entity.Name, order.Files), nil

	case session.PaymentPayload:
		entry, err := d.docs.CreateAccountingEntry(ctx, domain.AccountingEntry{EntityID: v.Entity.ID, Amount: v.Amount})
		if err != nil {
			return "record_payment", "", err
		}
		return "record_payment", fmt.Sprintf("Recorded a payment of %d from %s.", entry.Amount, v.Entity.Name), nil

	case session.SchedulePayload:
		entry, err := d.docs.CreateScheduleEntry(ctx, domain.ScheduleEntry{EntityID: v.Entity.ID, Date: v.Date})
		if err != nil {
			return "schedule", "", err
		}
		return "schedule", fmt.Sprintf("Booked %s on %s.", v.Entity.Name, entry.Date.Format("02.01.2006")), nil

	default:
		panic(fmt.Sprintf("dispatch: no mutation for flow %q", p.Flow()))
	}
}

// mutationFailed applies the error policy. Validation and transient
// failures keep the session so the user can retry from the same screen.
func (d *Dispatcher) mutationFailed(ctx context.Context, t turn, entity domain.EntityRef, op string, err error) error {
	switch {
	case docstore.IsNotFound(err):
		return d.entityGone(ctx, t, entity)
	case docstore.IsValidation(err):
		d.logger.Info("mutation rejected", "op", op, "chat_id", t.key.ChatID, "error", err)
		return d.notice(ctx, t, fmt.Sprintf(msgRejectedFmt, reason(err)))
	case docstore.IsRetryable(err):
		d.logger.Warn("mutation failed transiently", "op", op, "chat_id", t.key.ChatID, "error", err)
		return d.notice(ctx, t, msgTransient)
	default:
		d.logger.Error("mutation failed", "op", op, "chat_id", t.key.ChatID, "error", err)
		return d.notice(ctx, t, msgFailed)
	}
}

func reason(err error) string {
	var de *docstore.Error
	if errors.As(err, &de) && de.Err != nil {
		return de.Err.Error()
	}
	return err.Error()
}
