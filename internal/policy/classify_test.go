package policy_test

import (
	"testing"

	"github.com/k-iijima/hiveforge/internal/policy"
)

func TestClassifyDefaults(t *testing.T) {
	c := policy.NewClassifier(nil, nil)
	cases := map[string]policy.ActionClass{
		"read_file":      policy.ActionReadOnly,
		"list_directory": policy.ActionReadOnly,
		"search":         policy.ActionReadOnly,
		"status":         policy.ActionReadOnly,
		"create_file":    policy.ActionReversible,
		"edit_file":      policy.ActionReversible,
		"delete_file":    policy.ActionIrreversible,
		"http_request":   policy.ActionIrreversible,
	}
	for tool, want := range cases {
		if got := c.Classify(tool, ""); got != want {
			t.Errorf("%s: expected %s, got %s", tool, want, got)
		}
	}
}

func TestClassifyUnknownToolDefaultsReversible(t *testing.T) {
	c := policy.NewClassifier(nil, nil)
	if got := c.Classify("some_new_tool", ""); got != policy.ActionReversible {
		t.Fatalf("expected reversible default, got %s", got)
	}
}

func TestClassifyRunCommandAllowlisted(t *testing.T) {
	c := policy.NewClassifier(nil, []string{"git", "ls"})
	if got := c.Classify("run_command", "git status"); got != policy.ActionReversible {
		t.Fatalf("expected reversible for allowlisted command, got %s", got)
	}
}

func TestClassifyRunCommandNonAllowlisted(t *testing.T) {
	c := policy.NewClassifier(nil, []string{"git"})
	if got := c.Classify("run_command", "rm -rf /"); got != policy.ActionIrreversible {
		t.Fatalf("expected irreversible for non-allowlisted command, got %s", got)
	}
}

func TestClassifyOverrideWins(t *testing.T) {
	c := policy.NewClassifier(map[string]policy.ActionClass{"read_file": policy.ActionIrreversible}, nil)
	if got := c.Classify("read_file", ""); got != policy.ActionIrreversible {
		t.Fatalf("expected override to win, got %s", got)
	}
}
