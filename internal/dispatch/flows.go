package dispatch

import (
	"context"
	"fmt"

	"github.com/ashureev/chatdesk/internal/docstore"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/extract"
	"github.com/ashureev/chatdesk/internal/intent"
	"github.com/ashureev/chatdesk/internal/metrics"
	"github.com/ashureev/chatdesk/internal/resolve"
	"github.com/ashureev/chatdesk/internal/session"
)

// route starts whatever an intent asks for from outside any value step.
func (d *Dispatcher) route(ctx context.Context, t turn, in intent.Intent, ex extract.Result, text string) error {
	switch in {
	case intent.Help:
		return d.showMenu(ctx, t, msgHelp)

	case intent.ShowRecent:
		return d.showRecent(ctx, t)

	case intent.CreateOrders:
		return d.startFlow(ctx, t, session.OrderCreatePayload{Category: ex.Category, Count: ex.FirstNumber()}, ex.Subject)

	case intent.AddFiles:
		return d.startFlow(ctx, t, session.AddFilesPayload{Count: ex.FirstNumber()}, ex.Subject)

	case intent.RecordPayment:
		return d.startFlow(ctx, t, session.PaymentPayload{Amount: int64(ex.FirstNumber())}, ex.Subject)

	case intent.Schedule:
		p := session.SchedulePayload{}
		if date, ok := extract.ParseDate(text, d.now()); ok {
			p.Date = date
		}
		return d.startFlow(ctx, t, p, ex.Subject)

	case intent.ShowCategory, intent.ShowCategoryMenu:
		if ex.Category == domain.CategoryNone {
			return d.showCategoryMenu(ctx, t)
		}
		return d.startFlow(ctx, t, session.CategoryPayload{Category: ex.Category}, "")

	case intent.ShowCategoryForSubject:
		return d.startFlow(ctx, t, session.CategoryPayload{Category: ex.Category}, ex.Subject)

	case intent.SearchSubject:
		return d.startFlow(ctx, t, session.SearchPayload{}, ex.Subject)

	case intent.Ambiguous:
		p := session.DisambiguatePayload{Subject: ex.Subject, Number: ex.FirstNumber()}
		sess := d.sessions.Transition(t.key, session.FlowDisambiguate, session.StepChoose, p)
		return d.show(ctx, t, d.prompt(ctx, t.key, sess))

	default:
		if sess, ok := d.sessions.Get(t.key); ok && sess.Flow != session.FlowMenu {
			return d.notice(ctx, t, msgInFlow)
		}
		return d.showMenu(ctx, t, msgUnknown)
	}
}

// startFlow enters p's flow, resolving subject when one was given.
func (d *Dispatcher) startFlow(ctx context.Context, t turn, p session.Payload, subject string) error {
	if subject == "" {
		sess := d.sessions.Transition(t.key, p.Flow(), session.StepPickEntity, p)
		return d.show(ctx, t, d.prompt(ctx, t.key, sess))
	}
	return d.resolveInto(ctx, t, p, subject)
}

// resolveInto resolves subject and moves p's flow to the step the outcome
// calls for.
func (d *Dispatcher) resolveInto(ctx context.Context, t turn, p session.Payload, subject string) error {
	res, err := d.resolver.Resolve(ctx, t.key.UserID, subject)
	if err != nil {
		return d.remoteFailure(ctx, t, "resolve", err)
	}
	metrics.RecordResolution(res.Outcome.String(), string(res.Source))
	d.logger.Info("subject resolved",
		"chat_id", t.key.ChatID,
		"subject", subject,
		"outcome", res.Outcome,
		"source", res.Source,
		"candidates", len(res.Candidates),
	)

	flow := p.Flow()
	best, _ := res.Best()
	switch res.Outcome {
	case resolve.Found:
		return d.selectEntity(ctx, t, p, subject, best.Entity)
	case resolve.Confirm:
		target := session.Target{Subject: subject, Candidates: []domain.EntityRef{best.Entity}}
		sess := d.sessions.Transition(t.key, flow, session.StepConfirmEntity, session.WithTarget(p, target))
		return d.show(ctx, t, d.prompt(ctx, t.key, sess))
	case resolve.Multiple:
		target := session.Target{Subject: subject, Candidates: refsOf(res.Candidates)}
		sess := d.sessions.Transition(t.key, flow, session.StepPickEntity, session.WithTarget(p, target))
		return d.show(ctx, t, d.prompt(ctx, t.key, sess))
	default:
		sess := d.sessions.Transition(t.key, flow, session.StepPickEntity, session.WithTarget(p, session.Target{Subject: subject}))
		return d.show(ctx, t, d.prompt(ctx, t.key, sess))
	}
}

func refsOf(cands []resolve.Candidate) []domain.EntityRef {
	refs := make([]domain.EntityRef, 0, len(cands))
	for _, c := range cands {
		refs = append(refs, c.Entity)
	}
	return refs
}

// selectEntity fixes the flow's entity and moves on.
func (d *Dispatcher) selectEntity(ctx context.Context, t turn, p session.Payload, subject string, ref domain.EntityRef) error {
	d.recent.Touch(ctx, t.key.UserID, ref)
	return d.proceed(ctx, t, session.WithTarget(p, session.Target{Subject: subject, Entity: ref}))
}

// proceed moves to the first step whose value p is still missing.
func (d *Dispatcher) proceed(ctx context.Context, t turn, p session.Payload) error {
	switch v := p.(type) {
	case session.SearchPayload:
		d.sessions.Transition(t.key, session.FlowSearch, session.StepCard, v)
		return d.show(ctx, t, cardScreen(v.Entity.Name))
	case session.CategoryPayload:
		return d.listOrders(ctx, t, v)
	}
	sess := d.sessions.Transition(t.key, p.Flow(), nextStep(p), p)
	return d.show(ctx, t, d.prompt(ctx, t.key, sess))
}

func nextStep(p session.Payload) session.Step {
	switch v := p.(type) {
	case session.OrderCreatePayload:
		if v.Category == domain.CategoryNone {
			return session.StepPickCategory
		}
		if v.Count <= 0 {
			return session.StepEnterCount
		}
	case session.AddFilesPayload:
		if v.Count <= 0 {
			return session.StepEnterCount
		}
	case session.PaymentPayload:
		if v.Amount <= 0 {
			return session.StepEnterAmount
		}
	case session.SchedulePayload:
		if v.Date.IsZero() {
			return session.StepEnterDate
		}
	}
	return session.StepConfirm
}

// enterValue consumes a typed count, amount or date.
func (d *Dispatcher) enterValue(ctx context.Context, t turn, sess session.Session, text string, ex extract.Result) error {
	var p session.Payload
	switch v := sess.Payload.(type) {
	case session.OrderCreatePayload:
		if n := ex.FirstNumber(); n > 0 {
			v.Count = n
			p = v
		}
	case session.AddFilesPayload:
		if n := ex.FirstNumber(); n > 0 {
			v.Count = n
			p = v
		}
	case session.PaymentPayload:
		if n := ex.FirstNumber(); n > 0 {
			v.Amount = int64(n)
			p = v
		}
	case session.SchedulePayload:
		date, ok := extract.ParseDate(text, d.now())
		if !ok {
			return d.notice(ctx, t, msgNeedDate)
		}
		v.Date = date
		p = v
	}
	if p == nil {
		return d.notice(ctx, t, msgNeedNumber)
	}
	return d.proceed(ctx, t, p)
}

// listOrders renders an entity's orders, optionally filtered by category.
func (d *Dispatcher) listOrders(ctx context.Context, t turn, p session.CategoryPayload) error {
	orders, err := d.docs.ListOrders(ctx, p.Entity.ID, p.Category)
	if err != nil {
		if docstore.IsNotFound(err) {
			return d.entityGone(ctx, t, p.Entity)
		}
		return d.remoteFailure(ctx, t, "list_orders", err)
	}
	sess := d.sessions.Transition(t.key, session.FlowCategory, session.StepList, p)
	sc := d.prompt(ctx, t.key, sess)
	sc.text = ordersText(p.Entity, p.Category, orders)
	return d.show(ctx, t, sc)
}

// entityGone drops every reference to an entity the store no longer has.
func (d *Dispatcher) entityGone(ctx context.Context, t turn, ref domain.EntityRef) error {
	d.logger.Info("entity no longer exists", "chat_id", t.key.ChatID, "entity_id", ref.ID)
	d.sessions.Clear(t.key)
	d.recent.Forget(ctx, t.key.UserID, ref.ID)
	return d.showMenu(ctx, t, fmt.Sprintf(msgGoneFmt, ref.Name))
}

func (d *Dispatcher) handleLegacy(ctx context.Context, t turn, sess session.Session, act Action) error {
	target, _ := session.TargetOf(sess.Payload)

	switch {
	case act.Name == ActPick && sess.Step == session.StepPickEntity:
		offered := target.Candidates
		if len(offered) == 0 {
			offered = d.recent.List(ctx, t.key.UserID)
		}
		for _, r := range offered {
			if r.ID == act.Value {
				return d.selectEntity(ctx, t, sess.Payload, target.Subject, r)
			}
		}

	case act.Name == ActYes && sess.Step == session.StepConfirmEntity:
		if len(target.Candidates) > 0 && target.Candidates[0].ID == act.Value {
			return d.selectEntity(ctx, t, sess.Payload, target.Subject, target.Candidates[0])
		}

	case act.Name == ActNo && sess.Step == session.StepConfirmEntity:
		next, _ := d.sessions.Advance(t.key, session.StepPickEntity, session.WithTarget(sess.Payload, session.Target{}))
		return d.show(ctx, t, d.prompt(ctx, t.key, next))

	case act.Name == ActCat && sess.Step == session.StepPickCategory:
		cat, ok := domain.ParseCategory(act.Value)
		p, isOrder := sess.Payload.(session.OrderCreatePayload)
		if ok && isOrder {
			p.Category = cat
			return d.proceed(ctx, t, p)
		}

	case act.Name == ActConfirm && sess.Step == session.StepConfirm:
		return d.commit(ctx, t, act)

	case act.Name == ActChoose && sess.Step == session.StepChoose:
		p, _ := sess.Payload.(session.DisambiguatePayload)
		switch act.Value {
		case "files":
			return d.startFlow(ctx, t, session.AddFilesPayload{Count: p.Number}, p.Subject)
		case "orders":
			return d.startFlow(ctx, t, session.OrderCreatePayload{Count: p.Number}, p.Subject)
		}
	}
	return d.stale(ctx, t, act, "action does not apply to step "+string(sess.Step))
}

func (d *Dispatcher) handleCard(ctx context.Context, t turn, sess session.Session, act Action) error {
	switch act.Module + ":" + act.Name {
	case "menu:" + ActOpen:
		switch act.Value {
		case "recent":
			return d.showRecent(ctx, t)
		case string(session.FlowCategory):
			return d.showCategoryMenu(ctx, t)
		}
		if p, ok := emptyPayload(session.Flow(act.Value)); ok {
			return d.startFlow(ctx, t, p, "")
		}

	case "category:" + ActPick:
		if cat, ok := domain.ParseCategory(act.Value); ok {
			return d.startFlow(ctx, t, session.CategoryPayload{Category: cat}, "")
		}

	case "recent:" + ActPick:
		for _, r := range d.recent.List(ctx, t.key.UserID) {
			if r.ID == act.Value {
				return d.selectEntity(ctx, t, session.SearchPayload{}, "", r)
			}
		}

	case "card:" + ActOrders:
		if v, ok := sess.Payload.(session.SearchPayload); ok && sess.Step == session.StepCard {
			return d.listOrders(ctx, t, session.CategoryPayload{Target: session.Target{Entity: v.Entity}})
		}

	case "card:" + ActStart:
		v, isCard := sess.Payload.(session.SearchPayload)
		p, ok := emptyPayload(session.Flow(act.Value))
		if isCard && ok && sess.Step == session.StepCard {
			return d.proceed(ctx, t, session.WithTarget(p, session.Target{Entity: v.Entity}))
		}
	}
	return d.stale(ctx, t, act, "card action does not apply to step "+string(sess.Step))
}

func emptyPayload(flow session.Flow) (session.Payload, bool) {
	switch flow {
	case session.FlowOrderCreate:
		return session.OrderCreatePayload{}, true
	case session.FlowAddFiles:
		return session.AddFilesPayload{}, true
	case session.FlowPayment:
		return session.PaymentPayload{}, true
	case session.FlowSchedule:
		return session.SchedulePayload{}, true
	case session.FlowSearch:
		return session.SearchPayload{}, true
	default:
		return nil, false
	}
}
