package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/session"
	"github.com/ashureev/chatdesk/internal/transport"
)

// User-facing texts.
const (
	msgDenied      = "Sorry, you are not allowed to use this bot."
	msgStale       = "This screen is outdated. Please reopen it."
	msgCancelled   = "Cancelled."
	msgMenu        = "What would you like to do?"
	msgHelp        = "Send a name to open its card, or a command like \"3 custom Anna\", \"Anna 30 files\", \"payment Anna 5000\" or \"Anna 25.06\"."
	msgUnknown     = "Sorry, I did not understand that."
	msgInFlow      = "Sorry, I did not understand that. Send \"cancel\" to stop."
	msgNeedNumber  = "Please send a positive number."
	msgNeedDate    = "Please send a date like 25.06, \"today\" or \"tomorrow\"."
	msgTransient   = "The document store is temporarily unavailable. Please try again."
	msgFailed      = "Something went wrong. Please try again later."
	msgNoRecent    = "No recent entries yet. Send a name to find one."
	msgRejectedFmt = "The document store rejected this: %s"
	msgGoneFmt     = "%s no longer exists."
)

// flowPrefix is the legacy action prefix of each flow.
var flowPrefix = map[session.Flow]string{
	session.FlowMenu:         "mn",
	session.FlowOrderCreate:  "oc",
	session.FlowAddFiles:     "af",
	session.FlowPayment:      "pay",
	session.FlowSchedule:     "sch",
	session.FlowSearch:       "se",
	session.FlowCategory:     "cat",
	session.FlowDisambiguate: "dz",
}

func flowForPrefix(prefix string) (session.Flow, bool) {
	for f, p := range flowPrefix {
		if p == prefix {
			return f, true
		}
	}
	return "", false
}

type button struct {
	label  string
	action Action
}

// screen is a render whose controls do not carry a token yet.
type screen struct {
	text string
	rows [][]button
}

func (s screen) hasControls() bool {
	return len(s.rows) > 0
}

func navRow(flow session.Flow) []button {
	p := flowPrefix[flow]
	return []button{
		{label: "« Back", action: Legacy(p, ActBack, "")},
		{label: "✕ Cancel", action: Legacy(p, ActCancel, "")},
	}
}

func cardNavRow() []button {
	return []button{
		{label: "« Back", action: Card("card", ActBack, "")},
		{label: "✕ Cancel", action: Card("card", ActCancel, "")},
	}
}

func mainMenu(text string) screen {
	return screen{
		text: text,
		rows: [][]button{
			{
				{label: "New order", action: Card("menu", ActOpen, string(session.FlowOrderCreate))},
				{label: "Add files", action: Card("menu", ActOpen, string(session.FlowAddFiles))},
			},
			{
				{label: "Payment", action: Card("menu", ActOpen, string(session.FlowPayment))},
				{label: "Schedule", action: Card("menu", ActOpen, string(session.FlowSchedule))},
			},
			{
				{label: "Recent", action: Card("menu", ActOpen, "recent")},
				{label: "Categories", action: Card("menu", ActOpen, string(session.FlowCategory))},
			},
		},
	}
}

func categoryRows(act func(domain.Category) Action) [][]button {
	var rows [][]button
	for i := 0; i < len(domain.Categories); i += 2 {
		var row []button
		for _, c := range domain.Categories[i:min(i+2, len(domain.Categories))] {
			row = append(row, button{label: c.Label(), action: act(c)})
		}
		rows = append(rows, row)
	}
	return rows
}

func entityRows(refs []domain.EntityRef, act func(domain.EntityRef) Action) [][]button {
	rows := make([][]button, 0, len(refs))
	for _, r := range refs {
		rows = append(rows, []button{{label: r.Name, action: act(r)}})
	}
	return rows
}

// prompt renders the screen for the session's current step.
func (d *Dispatcher) prompt(ctx context.Context, key session.Key, sess session.Session) screen {
	flow := sess.Flow
	prefix := flowPrefix[flow]
	target, _ := session.TargetOf(sess.Payload)
	name := target.Entity.Name

	var sc screen
	switch sess.Step {
	case session.StepMain:
		return mainMenu(msgMenu)

	case session.StepPickEntity:
		pick := func(r domain.EntityRef) Action { return Legacy(prefix, ActPick, r.ID) }
		switch {
		case len(target.Candidates) > 0:
			sc.text = fmt.Sprintf("Several matches for %q. Pick one or type another name:", target.Subject)
			sc.rows = entityRows(target.Candidates, pick)
		case target.Subject != "":
			sc.text = fmt.Sprintf("Nothing found for %q. Type another name:", target.Subject)
		default:
			sc.text = "Who is it for? Type a name or pick a recent one:"
			sc.rows = entityRows(d.recent.List(ctx, key.UserID), pick)
		}

	case session.StepConfirmEntity:
		var cand domain.EntityRef
		if len(target.Candidates) > 0 {
			cand = target.Candidates[0]
		}
		sc.text = fmt.Sprintf("Did you mean %s?", cand.Name)
		sc.rows = [][]button{{
			{label: "Yes", action: Legacy(prefix, ActYes, cand.ID)},
			{label: "No", action: Legacy(prefix, ActNo, "")},
		}}

	case session.StepPickCategory:
		sc.text = fmt.Sprintf("Which category for %s?", name)
		sc.rows = categoryRows(func(c domain.Category) Action { return Legacy(prefix, ActCat, string(c)) })

	case session.StepEnterCount:
		if p, ok := sess.Payload.(session.OrderCreatePayload); ok {
			sc.text = fmt.Sprintf("How many %s orders for %s?", p.Category.Label(), name)
		} else {
			sc.text = fmt.Sprintf("How many files for %s?", name)
		}

	case session.StepEnterAmount:
		sc.text = fmt.Sprintf("Payment amount from %s?", name)

	case session.StepEnterDate:
		sc.text = fmt.Sprintf("Which date for %s? (25.06, today, tomorrow)", name)

	case session.StepConfirm:
		sc.text = summary(sess.Payload)
		sc.rows = [][]button{{{label: "✓ Confirm", action: Legacy(prefix, ActConfirm, "")}}}

	case session.StepCard:
		return cardScreen(name)

	case session.StepMenu:
		sc.text = "Pick a category:"
		sc.rows = categoryRows(func(c domain.Category) Action { return Card("category", ActPick, string(c)) })

	case session.StepChoose:
		p, _ := sess.Payload.(session.DisambiguatePayload)
		sc.text = fmt.Sprintf("What should I do for %s?", p.Subject)
		sc.rows = [][]button{
			{{label: fmt.Sprintf("Add %d files", p.Number), action: Legacy(prefix, ActChoose, "files")}},
			{{label: fmt.Sprintf("Create %d orders", p.Number), action: Legacy(prefix, ActChoose, "orders")}},
		}
	}

	sc.rows = append(sc.rows, navRow(flow))
	return sc
}

func cardScreen(text string) screen {
	return screen{
		text: text,
		rows: [][]button{
			{{label: "Orders", action: Card("card", ActOrders, "")}},
			{
				{label: "New order", action: Card("card", ActStart, string(session.FlowOrderCreate))},
				{label: "Add files", action: Card("card", ActStart, string(session.FlowAddFiles))},
			},
			{
				{label: "Payment", action: Card("card", ActStart, string(session.FlowPayment))},
				{label: "Schedule", action: Card("card", ActStart, string(session.FlowSchedule))},
			},
			cardNavRow(),
		},
	}
}

func summary(p session.Payload) string {
	switch v := p.(type) {
	case session.OrderCreatePayload:
		return fmt.Sprintf("Create %d %s order(s) for %s?", v.Count, v.Category.Label(), v.Entity.Name)
	case session.AddFilesPayload:
		return fmt.Sprintf("Add %d files for %s?", v.Count, v.Entity.Name)
	case session.PaymentPayload:
		return fmt.Sprintf("Record a payment of %d from %s?", v.Amount, v.Entity.Name)
	case session.SchedulePayload:
		return fmt.Sprintf("Book %s on %s?", v.Entity.Name, v.Date.Format("02.01.2006"))
	default:
		return "Confirm?"
	}
}

func ordersText(entity domain.EntityRef, category domain.Category, orders []domain.Order) string {
	var b strings.Builder
	if category == domain.CategoryNone {
		fmt.Fprintf(&b, "Orders for %s:", entity.Name)
	} else {
		fmt.Fprintf(&b, "%s orders for %s:", category.Label(), entity.Name)
	}
	if len(orders) == 0 {
		b.WriteString("\nnone yet")
		return b.String()
	}
	const maxShown = 10
	for i, o := range orders {
		if i == maxShown {
			fmt.Fprintf(&b, "\n… and %d more", len(orders)-maxShown)
			break
		}
		fmt.Fprintf(&b, "\n• %s %s, %d files, %s", o.CreatedAt.Format(time.DateOnly), o.Category.Label(), o.Files, o.Status)
	}
	return b.String()
}

// show sends sc, embedding the session's active token in every control.
func (d *Dispatcher) show(ctx context.Context, t turn, sc screen) error {
	reply := transport.Reply{
		ChatID:        t.key.ChatID,
		UserID:        t.key.UserID,
		Text:          sc.text,
		EditMessageID: t.edit,
	}
	if sc.hasControls() {
		token := d.guard.ActiveToken(t.key)
		for _, row := range sc.rows {
			out := make([]transport.Button, 0, len(row))
			for _, b := range row {
				out = append(out, transport.Button{Text: b.label, Action: b.action.WithToken(token).String()})
			}
			reply.Buttons = append(reply.Buttons, out)
		}
	}
	if _, err := d.sender.Send(ctx, reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// notice sends a text-only reply as a new message.
func (d *Dispatcher) notice(ctx context.Context, t turn, text string) error {
	t.edit = 0
	return d.show(ctx, t, screen{text: text})
}
