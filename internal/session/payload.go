package session

import (
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// Payload is the flow-specific part of a session. Exactly one variant
// exists per flow; the dispatcher type-switches on it.
type Payload interface {
	Flow() Flow
	isPayload()
}

// Target is the entity a flow operates on, plus the candidates offered
// while the user is still choosing it.
type Target struct {
	Subject    string             `json:"subject,omitempty"`
	Entity     domain.EntityRef   `json:"entity"`
	Candidates []domain.EntityRef `json:"candidates,omitempty"`
}

// MenuPayload backs stateless screens (menus, recent lists) so that their
// controls still carry a token.
type MenuPayload struct{}

// OrderCreatePayload collects an order-creation request.
type OrderCreatePayload struct {
	Target
	Category domain.Category `json:"category"`
	Count    int             `json:"count"`
}

// AddFilesPayload collects a request to add files to an entity's open order.
type AddFilesPayload struct {
	Target
	Count int `json:"count"`
}

// PaymentPayload collects an accounting entry.
type PaymentPayload struct {
	Target
	Amount int64 `json:"amount"`
}

// SchedulePayload collects a schedule entry.
type SchedulePayload struct {
	Target
	Date time.Time `json:"date"`
}

// SearchPayload backs the entity card reached from a bare subject name.
type SearchPayload struct {
	Target
}

// CategoryPayload backs the category menu and per-entity category listing.
type CategoryPayload struct {
	Target
	Category domain.Category `json:"category"`
}

// DisambiguatePayload remembers the two readings offered for "<name> <N>".
type DisambiguatePayload struct {
	Subject string `json:"subject"`
	Number  int    `json:"number"`
}

func (MenuPayload) Flow() Flow         { return FlowMenu }
func (OrderCreatePayload) Flow() Flow  { return FlowOrderCreate }
func (AddFilesPayload) Flow() Flow     { return FlowAddFiles }
func (PaymentPayload) Flow() Flow      { return FlowPayment }
func (SchedulePayload) Flow() Flow     { return FlowSchedule }
func (SearchPayload) Flow() Flow       { return FlowSearch }
func (CategoryPayload) Flow() Flow     { return FlowCategory }
func (DisambiguatePayload) Flow() Flow { return FlowDisambiguate }

func (MenuPayload) isPayload()         {}
func (OrderCreatePayload) isPayload()  {}
func (AddFilesPayload) isPayload()     {}
func (PaymentPayload) isPayload()      {}
func (SchedulePayload) isPayload()     {}
func (SearchPayload) isPayload()       {}
func (CategoryPayload) isPayload()     {}
func (DisambiguatePayload) isPayload() {}

// TargetOf returns the target carried by p, if its flow has one.
func TargetOf(p Payload) (Target, bool) {
	switch v := p.(type) {
	case OrderCreatePayload:
		return v.Target, true
	case AddFilesPayload:
		return v.Target, true
	case PaymentPayload:
		return v.Target, true
	case SchedulePayload:
		return v.Target, true
	case SearchPayload:
		return v.Target, true
	case CategoryPayload:
		return v.Target, true
	default:
		return Target{}, false
	}
}

// WithTarget returns a copy of p carrying t. Payloads without a target are
// returned unchanged.
func WithTarget(p Payload, t Target) Payload {
	switch v := p.(type) {
	case OrderCreatePayload:
		v.Target = t
		return v
	case AddFilesPayload:
		v.Target = t
		return v
	case PaymentPayload:
		v.Target = t
		return v
	case SchedulePayload:
		v.Target = t
		return v
	case SearchPayload:
		v.Target = t
		return v
	case CategoryPayload:
		v.Target = t
		return v
	default:
		return p
	}
}
