package policy_test

import (
	"testing"

	"github.com/k-iijima/hiveforge/internal/policy"
)

func TestDecideMatchesMatrix(t *testing.T) {
	cases := []struct {
		tl     policy.TrustLevel
		ac     policy.ActionClass
		expect policy.Decision
	}{
		{policy.TrustReportOnly, policy.ActionReadOnly, policy.Allow},
		{policy.TrustReportOnly, policy.ActionReversible, policy.RequireApproval},
		{policy.TrustReportOnly, policy.ActionIrreversible, policy.Deny},

		{policy.TrustProposeConfirm, policy.ActionReadOnly, policy.Allow},
		{policy.TrustProposeConfirm, policy.ActionReversible, policy.Allow},
		{policy.TrustProposeConfirm, policy.ActionIrreversible, policy.RequireApproval},

		{policy.TrustAutoNotify, policy.ActionReadOnly, policy.Allow},
		{policy.TrustAutoNotify, policy.ActionReversible, policy.Allow},
		{policy.TrustAutoNotify, policy.ActionIrreversible, policy.Allow},

		{policy.TrustFullDelegation, policy.ActionReadOnly, policy.Allow},
		{policy.TrustFullDelegation, policy.ActionReversible, policy.Allow},
		{policy.TrustFullDelegation, policy.ActionIrreversible, policy.Allow},
	}
	for _, c := range cases {
		got, err := policy.Decide("agent-1", c.ac, c.tl, policy.ScopeTask, "t1", policy.Context{})
		if err != nil {
			t.Fatalf("unexpected error for %s/%s: %v", c.tl, c.ac, err)
		}
		if got != c.expect {
			t.Errorf("%s/%s: expected %s, got %s", c.tl, c.ac, c.expect, got)
		}
	}
}

func TestDecideStrictIrreversibleOverride(t *testing.T) {
	got, err := policy.Decide("agent-1", policy.ActionIrreversible, policy.TrustFullDelegation, policy.ScopeTask, "t1", policy.Context{StrictIrreversible: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != policy.Deny {
		t.Fatalf("expected DENY under strict_irreversible, got %s", got)
	}
}

func TestDecideUnknownTrustLevel(t *testing.T) {
	_, err := policy.Decide("agent-1", policy.ActionReadOnly, policy.TrustLevel("nonsense"), policy.ScopeTask, "t1", policy.Context{})
	if err == nil {
		t.Fatalf("expected error for unknown trust level")
	}
}
