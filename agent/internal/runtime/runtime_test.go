package runtime

import "testing"

func TestDecideExecutionRejectsWhenNoLongerIdle(t *testing.T) {
	executed, reason := decideExecution(3, 15)
	if executed {
		t.Fatal("expected execution to be rejected")
	}
	if reason != "not idle" {
		t.Fatalf("expected a reason, got %q", reason)
	}
}

func TestDecideExecutionApprovesWhenStillIdle(t *testing.T) {
	executed, reason := decideExecution(20, 15)
	if !executed {
		t.Fatal("expected execution to be approved")
	}
	if reason != "" {
		t.Fatalf("expected no reason on approval, got %q", reason)
	}
}

func TestDecideExecutionBoundaryEqualsThreshold(t *testing.T) {
	executed, _ := decideExecution(15, 15)
	if !executed {
		t.Fatal("expected idle-equal-to-threshold to count as idle")
	}
}
