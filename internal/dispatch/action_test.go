package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/chatdesk/internal/session"
)

func TestParseAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Action
	}{
		{
			raw:  "oc|cat|custom|tok1",
			want: Action{Style: StyleLegacy, Module: "oc", Name: "cat", Value: "custom", Token: "tok1"},
		},
		{
			raw:  "af|back||",
			want: Action{Style: StyleLegacy, Module: "af", Name: "back"},
		},
		{
			raw:  "ui:card:start:payment|tok2",
			want: Action{Style: StyleCard, Namespace: "ui", Module: "card", Name: "start", Value: "payment", Token: "tok2"},
		},
		{
			raw:  "ui:card:orders|tok3",
			want: Action{Style: StyleCard, Namespace: "ui", Module: "card", Name: "orders", Token: "tok3"},
		},
		{
			// A value may itself contain ':'.
			raw:  "ui:recent:pick:a:b|t",
			want: Action{Style: StyleCard, Namespace: "ui", Module: "recent", Name: "pick", Value: "a:b", Token: "t"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAction(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseActionMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"no-delimiter",
		"oc|cat|tok",
		"oc|cat|a|b|tok",
		"|cat|x|tok",
		"ui:card|tok",
		"ui::start|tok",
	} {
		_, err := ParseAction(raw)
		assert.Truef(t, errors.Is(err, ErrMalformedAction), "ParseAction(%q) error = %v", raw, err)
	}
}

func TestActionStringRoundTrip(t *testing.T) {
	t.Parallel()

	for _, a := range []Action{
		Legacy("pay", ActConfirm, "").WithToken("abc"),
		Legacy("oc", ActPick, "ent-1").WithToken("abc"),
		Card("menu", ActOpen, "recent").WithToken("abc"),
		Card("card", ActOrders, "").WithToken("abc"),
	} {
		got, err := ParseAction(a.String())
		require.NoError(t, err, a.String())
		assert.Equal(t, a, got)
	}
}

func TestEveryFlowHasAPrefix(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, f := range []session.Flow{
		session.FlowMenu, session.FlowOrderCreate, session.FlowAddFiles, session.FlowPayment,
		session.FlowSchedule, session.FlowSearch, session.FlowCategory, session.FlowDisambiguate,
	} {
		p, ok := flowPrefix[f]
		require.True(t, ok, f)
		assert.False(t, seen[p], "prefix %q reused", p)
		seen[p] = true

		back, ok := flowForPrefix(p)
		assert.True(t, ok)
		assert.Equal(t, f, back)
	}
}
