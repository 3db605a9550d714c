// Package dispatch routes classified chat input through the conversation
// flows and runs the document-store mutations they end in.
package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Style is the wire format of an action identifier.
type Style int

const (
	// StyleLegacy is <prefix>|<action>|<value>|<token>.
	StyleLegacy Style = iota
	// StyleCard is <namespace>:<module>:<action>[:<value>]|<token>.
	StyleCard
)

// Action names shared by both styles.
const (
	ActBack    = "back"
	ActCancel  = "cancel"
	ActReset   = "reset"
	ActPick    = "pick"
	ActYes     = "yes"
	ActNo      = "no"
	ActCat     = "cat"
	ActConfirm = "ok"
	ActChoose  = "choose"
	ActOpen    = "open"
	ActStart   = "start"
	ActOrders  = "orders"
)

// ErrMalformedAction is returned for identifiers matching neither style.
var ErrMalformedAction = errors.New("malformed action")

// Action is a parsed action identifier.
type Action struct {
	Style Style
	// Namespace is set for card actions only.
	Namespace string
	// Module is the legacy flow prefix or the card module.
	Module string
	Name   string
	Value  string
	Token  string
}

// Legacy builds a legacy-style action.
func Legacy(prefix, name, value string) Action {
	return Action{Style: StyleLegacy, Module: prefix, Name: name, Value: value}
}

// Card builds a card-style action in the "ui" namespace.
func Card(module, name, value string) Action {
	return Action{Style: StyleCard, Namespace: "ui", Module: module, Name: name, Value: value}
}

// WithToken returns a copy of a carrying token.
func (a Action) WithToken(token string) Action {
	a.Token = token
	return a
}

// String encodes the action in its wire format.
func (a Action) String() string {
	if a.Style == StyleCard {
		head := a.Namespace + ":" + a.Module + ":" + a.Name
		if a.Value != "" {
			head += ":" + a.Value
		}
		return head + "|" + a.Token
	}
	return a.Module + "|" + a.Name + "|" + a.Value + "|" + a.Token
}

// ParseAction decodes an action identifier. The token is always the field
// after the last '|'.
func ParseAction(raw string) (Action, error) {
	cut := strings.LastIndexByte(raw, '|')
	if cut < 0 {
		return Action{}, fmt.Errorf("%w: no token delimiter in %q", ErrMalformedAction, raw)
	}
	head, token := raw[:cut], raw[cut+1:]

	if strings.Contains(head, "|") {
		parts := strings.Split(head, "|")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return Action{}, fmt.Errorf("%w: want <prefix>|<action>|<value>|<token>, got %q", ErrMalformedAction, raw)
		}
		return Action{Style: StyleLegacy, Module: parts[0], Name: parts[1], Value: parts[2], Token: token}, nil
	}

	parts := strings.SplitN(head, ":", 4)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Action{}, fmt.Errorf("%w: want <namespace>:<module>:<action>[:<value>]|<token>, got %q", ErrMalformedAction, raw)
	}
	a := Action{Style: StyleCard, Namespace: parts[0], Module: parts[1], Name: parts[2], Token: token}
	if len(parts) == 4 {
		a.Value = parts[3]
	}
	return a, nil
}
