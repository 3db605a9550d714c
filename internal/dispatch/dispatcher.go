package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/chatdesk/internal/docstore"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/extract"
	"github.com/ashureev/chatdesk/internal/intent"
	"github.com/ashureev/chatdesk/internal/metrics"
	"github.com/ashureev/chatdesk/internal/recent"
	"github.com/ashureev/chatdesk/internal/resolve"
	"github.com/ashureev/chatdesk/internal/session"
	"github.com/ashureev/chatdesk/internal/transport"
)

// Authorizer decides whether a user may talk to the bot.
type Authorizer interface {
	Allowed(userID int64) bool
}

// Deps wires a Dispatcher.
type Deps struct {
	Sessions   *session.Store
	Guard      *session.Guard
	Recent     *recent.Cache
	Classifier *intent.Classifier
	Extractor  *extract.Extractor
	Resolver   *resolve.Resolver
	Docs       docstore.Client
	Sender     transport.Sender
	// Auth is optional; nil allows every user.
	Auth Authorizer
	// InFlight is optional; a fresh guard is used when nil.
	InFlight *InFlight
	Now      func() time.Time
	Logger   *slog.Logger
}

// Dispatcher turns inbound messages and presses into state transitions,
// document-store calls and replies.
type Dispatcher struct {
	sessions   *session.Store
	guard      *session.Guard
	recent     *recent.Cache
	classifier *intent.Classifier
	extractor  *extract.Extractor
	resolver   *resolve.Resolver
	docs       docstore.Client
	sender     transport.Sender
	auth       Authorizer
	inflight   *InFlight
	now        func() time.Time
	logger     *slog.Logger
}

// turn is the addressing of one inbound event.
type turn struct {
	key session.Key
	// edit is the message to replace, zero for a new message.
	edit int64
}

// New creates a Dispatcher.
func New(d Deps) *Dispatcher {
	if d.InFlight == nil {
		d.InFlight = NewInFlight()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Guard == nil {
		d.Guard = session.NewGuard(d.Sessions)
	}
	return &Dispatcher{
		sessions:   d.Sessions,
		guard:      d.Guard,
		recent:     d.Recent,
		classifier: d.Classifier,
		extractor:  d.Extractor,
		resolver:   d.Resolver,
		docs:       d.Docs,
		sender:     d.Sender,
		auth:       d.Auth,
		inflight:   d.InFlight,
		now:        d.Now,
		logger:     d.Logger,
	}
}

// keyFor addresses a session. Legacy clients that do not send a chat id
// are matched to the user's most recent session, or to their private chat.
func (d *Dispatcher) keyFor(chatID, userID int64) session.Key {
	if chatID != 0 {
		return session.Key{ChatID: chatID, UserID: userID}
	}
	if _, key, ok := d.sessions.GetByUser(userID); ok {
		return key
	}
	return session.Key{ChatID: userID, UserID: userID}
}

func (d *Dispatcher) allowed(userID int64) bool {
	return d.auth == nil || d.auth.Allowed(userID)
}

// HandleText processes a free-text message.
func (d *Dispatcher) HandleText(ctx context.Context, m transport.Message) error {
	t := turn{key: d.keyFor(m.ChatID, m.UserID)}
	if !d.allowed(m.UserID) {
		d.logger.Warn("message from unauthorized user", "user_id", m.UserID)
		return d.notice(ctx, t, msgDenied)
	}

	ex := d.extractor.Extract(m.Text)
	res := d.classifier.Classify(m.Text, intent.Hints{HasSubject: ex.HasSubject(), HasNumber: ex.HasNumber()})
	metrics.RecordIntent(string(res.Intent))
	d.logger.Info("message classified",
		"chat_id", t.key.ChatID,
		"user_id", t.key.UserID,
		"intent", res.Intent,
		"rule", res.Rule,
		"matched_by", res.MatchedBy,
		"fallback", res.Fallback(),
		"subject", ex.Subject,
	)

	switch res.Intent {
	case intent.Cancel:
		return d.cancel(ctx, t)
	case intent.Back:
		return d.back(ctx, t)
	}

	if sess, ok := d.sessions.Get(t.key); ok {
		switch sess.Step {
		case session.StepEnterCount, session.StepEnterAmount, session.StepEnterDate:
			return d.enterValue(ctx, t, sess, m.Text, ex)
		case session.StepPickEntity:
			if ex.HasSubject() && (res.Intent == intent.SearchSubject || res.Intent == intent.Ambiguous) {
				return d.resolveInto(ctx, t, sess.Payload, ex.Subject)
			}
		}
	}

	return d.route(ctx, t, res.Intent, ex, m.Text)
}

// HandleAction processes a button press.
func (d *Dispatcher) HandleAction(ctx context.Context, p transport.Press) error {
	t := turn{key: d.keyFor(p.ChatID, p.UserID), edit: p.MessageID}
	if !d.allowed(p.UserID) {
		d.logger.Warn("press from unauthorized user", "user_id", p.UserID)
		return d.notice(ctx, t, msgDenied)
	}

	act, err := ParseAction(p.Action)
	if err != nil {
		d.logger.Warn("malformed action", "chat_id", t.key.ChatID, "user_id", t.key.UserID, "error", err)
		return d.notice(ctx, t, msgStale)
	}

	verdict := d.guard.Check(t.key, act.Name, act.Token)
	if verdict == session.VerdictStale {
		return d.stale(ctx, t, act, "token mismatch")
	}

	switch act.Name {
	case ActCancel, ActReset:
		return d.cancel(ctx, t)
	case ActBack:
		return d.back(ctx, t)
	}

	sess, ok := d.sessions.Get(t.key)
	if !ok {
		return d.stale(ctx, t, act, "no session")
	}
	if act.Style == StyleCard {
		return d.handleCard(ctx, t, sess, act)
	}
	if flow, ok := flowForPrefix(act.Module); !ok || flow != sess.Flow {
		return d.stale(ctx, t, act, "prefix does not match flow")
	}
	return d.handleLegacy(ctx, t, sess, act)
}

func (d *Dispatcher) stale(ctx context.Context, t turn, act Action, reason string) error {
	metrics.RecordStaleAction()
	d.logger.Info("stale action rejected",
		"chat_id", t.key.ChatID,
		"user_id", t.key.UserID,
		"action", act.Name,
		"reason", reason,
	)
	return d.notice(ctx, t, msgStale)
}

func (d *Dispatcher) cancel(ctx context.Context, t turn) error {
	d.sessions.Clear(t.key)
	return d.showMenu(ctx, t, msgCancelled)
}

// back moves to the previous step of the current flow, or clears the
// session when there is none.
func (d *Dispatcher) back(ctx context.Context, t turn) error {
	sess, ok := d.sessions.Get(t.key)
	if !ok || sess.Flow == session.FlowMenu {
		return d.showMenu(ctx, t, msgMenu)
	}
	prev, ok := sess.Flow.Prev(sess.Step)
	if !ok {
		d.sessions.Clear(t.key)
		return d.showMenu(ctx, t, msgMenu)
	}

	p := sess.Payload
	if prev == session.StepPickEntity {
		target, _ := session.TargetOf(p)
		target.Entity = domain.EntityRef{}
		p = session.WithTarget(p, target)
	}
	next, ok := d.sessions.Advance(t.key, prev, p)
	if !ok {
		return d.showMenu(ctx, t, msgMenu)
	}
	return d.show(ctx, t, d.prompt(ctx, t.key, next))
}

func (d *Dispatcher) showMenu(ctx context.Context, t turn, text string) error {
	d.sessions.Transition(t.key, session.FlowMenu, session.StepMain, session.MenuPayload{})
	return d.show(ctx, t, mainMenu(text))
}

func (d *Dispatcher) showRecent(ctx context.Context, t turn) error {
	refs := d.recent.List(ctx, t.key.UserID)
	if len(refs) == 0 {
		return d.showMenu(ctx, t, msgNoRecent)
	}
	d.sessions.Transition(t.key, session.FlowMenu, session.StepMain, session.MenuPayload{})
	sc := screen{text: "Recent:"}
	for _, r := range refs {
		sc.rows = append(sc.rows, []button{{label: r.Name, action: Card("recent", ActPick, r.ID)}})
	}
	return d.show(ctx, t, sc)
}

func (d *Dispatcher) showCategoryMenu(ctx context.Context, t turn) error {
	sess := d.sessions.Transition(t.key, session.FlowCategory, session.StepMenu, session.CategoryPayload{})
	return d.show(ctx, t, d.prompt(ctx, t.key, sess))
}

// remoteFailure reports a failed read against the document store.
func (d *Dispatcher) remoteFailure(ctx context.Context, t turn, op string, err error) error {
	if docstore.IsRetryable(err) {
		d.logger.Warn("document store unavailable", "op", op, "chat_id", t.key.ChatID, "error", err)
		return d.notice(ctx, t, msgTransient)
	}
	d.logger.Error("document store call failed", "op", op, "chat_id", t.key.ChatID, "error", err)
	return d.notice(ctx, t, msgFailed)
}
