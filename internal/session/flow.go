// Package session keeps per-(chat, user) conversation state: the active
// flow, its step, a typed payload and the interaction token of the screens
// currently rendered for that user.
package session

import (
	"fmt"
	"regexp"
	"slices"
)

// Flow is a named top-level conversation type.
type Flow string

// Step is a named sub-state within a flow.
type Step string

const (
	FlowMenu         Flow = "menu"
	FlowOrderCreate  Flow = "order_create"
	FlowAddFiles     Flow = "add_files"
	FlowPayment      Flow = "payment"
	FlowSchedule     Flow = "schedule"
	FlowSearch       Flow = "search"
	FlowCategory     Flow = "category"
	FlowDisambiguate Flow = "disambiguate"
)

const (
	StepMain          Step = "main"
	StepPickEntity    Step = "pick_entity"
	StepConfirmEntity Step = "confirm_entity"
	StepPickCategory  Step = "pick_category"
	StepEnterCount    Step = "enter_count"
	StepEnterAmount   Step = "enter_amount"
	StepEnterDate     Step = "enter_date"
	StepConfirm       Step = "confirm"
	StepCard          Step = "card"
	StepMenu          Step = "menu"
	StepList          Step = "list"
	StepChoose        Step = "choose"
)

// flowNamePattern is the naming convention every declared flow follows.
var flowNamePattern = regexp.MustCompile(`^[a-z]+(_[a-z]+)*$`)

// flowSteps declares the ordered steps of each flow.
var flowSteps = map[Flow][]Step{
	FlowMenu:         {StepMain},
	FlowOrderCreate:  {StepPickEntity, StepConfirmEntity, StepPickCategory, StepEnterCount, StepConfirm},
	FlowAddFiles:     {StepPickEntity, StepConfirmEntity, StepEnterCount, StepConfirm},
	FlowPayment:      {StepPickEntity, StepConfirmEntity, StepEnterAmount, StepConfirm},
	FlowSchedule:     {StepPickEntity, StepConfirmEntity, StepEnterDate, StepConfirm},
	FlowSearch:       {StepPickEntity, StepConfirmEntity, StepCard},
	FlowCategory:     {StepMenu, StepPickEntity, StepConfirmEntity, StepList},
	FlowDisambiguate: {StepChoose},
}

// Steps returns the declared steps of f in order.
func (f Flow) Steps() []Step {
	return slices.Clone(flowSteps[f])
}

// Declared reports whether f is a known flow.
func (f Flow) Declared() bool {
	_, ok := flowSteps[f]
	return ok
}

// Has reports whether step belongs to f.
func (f Flow) Has(step Step) bool {
	return slices.Contains(flowSteps[f], step)
}

// Prev returns the step a "back" press should return to. Confirmation of a
// fuzzy entity match is never a back target.
func (f Flow) Prev(step Step) (Step, bool) {
	steps := flowSteps[f]
	i := slices.Index(steps, step)
	for i--; i >= 0; i-- {
		if steps[i] != StepConfirmEntity {
			return steps[i], true
		}
	}
	return "", false
}

// mustBeValid panics when flow/step violate the declared flow table.
// Such a violation is a programming error, not user input.
func mustBeValid(flow Flow, step Step) {
	if !flowNamePattern.MatchString(string(flow)) {
		panic(fmt.Sprintf("session: flow name %q does not match %s", flow, flowNamePattern))
	}
	if !flow.Declared() {
		panic(fmt.Sprintf("session: flow %q is not declared", flow))
	}
	if !flow.Has(step) {
		panic(fmt.Sprintf("session: step %q is not declared for flow %q", step, flow))
	}
}
