package achievements

import (
	"testing"

	"github.com/tampadevs/communityevents/internal/store"
)

func TestConditionsMatch(t *testing.T) {
	payload := []byte(`{"eventType":"meetup","attendeeCount":12,"tags":["go","cloud"],"featured":false}`)

	cases := []struct {
		name string
		cond store.Condition
		want bool
	}{
		{"eq matches", store.Condition{Field: "eventType", Op: "eq", Value: "meetup"}, true},
		{"eq mismatches", store.Condition{Field: "eventType", Op: "eq", Value: "webinar"}, false},
		{"neq on absent field is false", store.Condition{Field: "missing", Op: "neq", Value: "x"}, false},
		{"eq true does not match a false value", store.Condition{Field: "featured", Op: "eq", Value: true}, false},
		{"eq false matches a false value", store.Condition{Field: "featured", Op: "eq", Value: false}, true},
		{"neq false mismatches a false value", store.Condition{Field: "featured", Op: "neq", Value: false}, false},
		{"gt on number", store.Condition{Field: "attendeeCount", Op: "gt", Value: 10.0}, true},
		{"gte boundary", store.Condition{Field: "attendeeCount", Op: "gte", Value: 12.0}, true},
		{"lt false", store.Condition{Field: "attendeeCount", Op: "lt", Value: 12.0}, false},
		{"in matches", store.Condition{Field: "eventType", Op: "in", Value: []any{"webinar", "meetup"}}, true},
		{"in no match", store.Condition{Field: "eventType", Op: "in", Value: []any{"webinar"}}, false},
		{"contains", store.Condition{Field: "eventType", Op: "contains", Value: "eet"}, true},
		{"unknown op is false", store.Condition{Field: "eventType", Op: "regex", Value: "m.*"}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := conditionMatches(c.cond, payload); got != c.want {
				t.Errorf("conditionMatches(%+v) = %v, want %v", c.cond, got, c.want)
			}
		})
	}
}

func TestConditionsMatchIsANDAcrossConditions(t *testing.T) {
	payload := []byte(`{"eventType":"meetup","attendeeCount":12}`)
	conds := []store.Condition{
		{Field: "eventType", Op: "eq", Value: "meetup"},
		{Field: "attendeeCount", Op: "gte", Value: 20.0},
	}
	if conditionsMatch(conds, payload) {
		t.Error("one failing condition must fail the whole AND-list")
	}
}

func TestConditionsMatchEmptyIsUnconditional(t *testing.T) {
	if !conditionsMatch(nil, []byte(`{}`)) {
		t.Error("an achievement with no conditions must match every event")
	}
}

func TestGaugeValue(t *testing.T) {
	payload := []byte(`{"progress":{"percent":42}}`)
	if got := gaugeValue(payload, "progress.percent"); got != 42 {
		t.Errorf("gaugeValue = %v, want 42", got)
	}
	if got := gaugeValue(payload, "progress.missing"); got != 0 {
		t.Errorf("gaugeValue on a missing field = %v, want 0", got)
	}
	if got := gaugeValue([]byte(`{"progress":{"percent":"not-a-number"}}`), "progress.percent"); got != 0 {
		t.Errorf("gaugeValue on a non-numeric field = %v, want 0", got)
	}
}
