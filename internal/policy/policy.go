// Package policy implements the Policy Gate (SPEC_FULL.md §4.5): a pure
// mapping from (actor, action class, trust level, scope) to a decision. It
// holds no state and performs no I/O — callers are responsible for acting on
// the decision (parking a turn, emitting approval_requested, and so on).
package policy

import "fmt"

// ActionClass classifies the blast radius of a tool call.
type ActionClass string

const (
	ActionReadOnly    ActionClass = "read_only"
	ActionReversible  ActionClass = "reversible"
	ActionIrreversible ActionClass = "irreversible"
)

// TrustLevel is the delegation level granted to an agent.
type TrustLevel string

const (
	TrustReportOnly      TrustLevel = "report_only"
	TrustProposeConfirm  TrustLevel = "propose_confirm"
	TrustAutoNotify      TrustLevel = "auto_notify"
	TrustFullDelegation  TrustLevel = "full_delegation"
)

// Decision is the Policy Gate's verdict.
type Decision string

const (
	Allow            Decision = "ALLOW"
	RequireApproval  Decision = "REQUIRE_APPROVAL"
	Deny             Decision = "DENY"
)

// Scope names the resource the action targets, purely informational to the
// Gate itself but carried through so callers can attribute decisions in
// logs and approval-request events.
type Scope string

const (
	ScopeTask   Scope = "task"
	ScopeRun    Scope = "run"
	ScopeColony Scope = "colony"
	ScopeHive   Scope = "hive"
)

// Context carries override switches that affect a single decide() call.
// StrictIrreversible flips full_delegation's irreversible cell from ALLOW
// to DENY (§4.5 matrix footnote).
type Context struct {
	StrictIrreversible bool
}

// matrix mirrors the table in §4.5 exactly; row = trust level, column =
// action class. The full_delegation/irreversible cell holds the default
// (ALLOW); Decide overrides it to DENY when Context.StrictIrreversible is set.
var matrix = map[TrustLevel]map[ActionClass]Decision{
	TrustReportOnly: {
		ActionReadOnly:     Allow,
		ActionReversible:   RequireApproval,
		ActionIrreversible: Deny,
	},
	TrustProposeConfirm: {
		ActionReadOnly:     Allow,
		ActionReversible:   Allow,
		ActionIrreversible: RequireApproval,
	},
	TrustAutoNotify: {
		ActionReadOnly:     Allow,
		ActionReversible:   Allow,
		ActionIrreversible: Allow,
	},
	TrustFullDelegation: {
		ActionReadOnly:     Allow,
		ActionReversible:   Allow,
		ActionIrreversible: Allow,
	},
}

// Decide maps (actor, action_class, trust_level, scope) to a decision. actor
// and scopeID are not consulted by the default matrix — they exist so a
// deployment-specific override hook (not yet wired) can make per-actor or
// per-resource exceptions without changing this signature.
func Decide(actor string, ac ActionClass, tl TrustLevel, scope Scope, scopeID string, ctx Context) (Decision, error) {
	row, ok := matrix[tl]
	if !ok {
		return Deny, fmt.Errorf("policy: unknown trust level %q", tl)
	}
	decision, ok := row[ac]
	if !ok {
		return Deny, fmt.Errorf("policy: unknown action class %q", ac)
	}
	if tl == TrustFullDelegation && ac == ActionIrreversible && ctx.StrictIrreversible {
		return Deny, nil
	}
	return decision, nil
}
