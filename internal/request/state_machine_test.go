package request

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusPending, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusApproved, false},
		{StatusPending, StatusPendingMotorpool, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusRevision, true},
		{StatusPending, StatusApproved, false}, // 不能跳过车管阶段
		{StatusPendingMotorpool, StatusApproved, true},
		{StatusPendingMotorpool, StatusRevision, true},
		{StatusPendingMotorpool, StatusPending, false},
		{StatusRevision, StatusPending, true},
		{StatusRevision, StatusPendingMotorpool, true},
		{StatusRevision, StatusApproved, false},
		{StatusApproved, StatusApproved, true}, // 改派自环
		{StatusApproved, StatusCompleted, true},
		{StatusApproved, StatusCancelled, true},
		{StatusApproved, StatusPending, false},
		{StatusRejected, StatusPending, false},
		{StatusRejected, StatusCancelled, false}, // 已驳回不能再取消
		{StatusCancelled, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestApplyTransitionIllegal(t *testing.T) {
	req := &Request{ID: "r1", Status: StatusRejected}
	err := ApplyTransition(req, StatusCancelled, time.Now())
	if err == nil {
		t.Fatal("expected error for rejected -> cancelled")
	}
	if req.Status != StatusRejected {
		t.Errorf("status changed on failed transition: %s", req.Status)
	}
}

func TestApplyTransitionStampsCancelledAt(t *testing.T) {
	now := time.Now()
	req := &Request{ID: "r1", Status: StatusPending}
	if err := ApplyTransition(req, StatusCancelled, now); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if req.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", req.Status, StatusCancelled)
	}
	if req.CancelledAt == nil || !req.CancelledAt.Equal(now) {
		t.Errorf("CancelledAt not stamped: %v", req.CancelledAt)
	}
}

func TestApplyTransitionClearsRevisionStage(t *testing.T) {
	req := &Request{ID: "r1", Status: StatusRevision, RevisionStage: StageMotorpool}
	if err := ApplyTransition(req, StatusPendingMotorpool, time.Now()); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if req.RevisionStage != "" {
		t.Errorf("RevisionStage not cleared: %s", req.RevisionStage)
	}
}

func TestStageForDecisionRouting(t *testing.T) {
	if got, err := StageForDecisionRouting(StageDepartment); err != nil || got != StatusPending {
		t.Errorf("department routing = %s, %v", got, err)
	}
	if got, err := StageForDecisionRouting(StageMotorpool); err != nil || got != StatusPendingMotorpool {
		t.Errorf("motorpool routing = %s, %v", got, err)
	}
	if _, err := StageForDecisionRouting("unknown"); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusCancelled, StatusCompleted} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if allowed := AllowTransition[s]; len(allowed) != 0 {
			t.Errorf("terminal %s allows transitions: %v", s, allowed)
		}
	}
}
