package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRunState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to RunState
		want     bool
	}{
		{RunPending, RunRunning, true},
		{RunRunning, RunSucceeded, true},
		{RunRunning, RunTimedOut, true},
		{RunRunning, RunFailed, true},
		{RunTimedOut, RunPending, true},
		{RunFailed, RunPending, true},
		{RunPending, RunSucceeded, false},
		{RunSucceeded, RunRunning, false},
		{RunSucceeded, RunPending, false},
		{RunTimedOut, RunRunning, false},
		{RunRunning, RunPending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_Lifecycle(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	run := NewRun("run-1", testDefinition(), now)

	if run.State != RunPending {
		t.Fatalf("NewRun() state = %s, want pending", run.State)
	}
	if run.Version != testDefinition().Version() {
		t.Errorf("NewRun() should record the definition version")
	}

	if err := run.Transition(RunRunning, now.Add(time.Second)); err != nil {
		t.Fatalf("Transition(running) error = %v", err)
	}
	if err := run.Transition(RunTimedOut, now.Add(time.Hour)); err != nil {
		t.Fatalf("Transition(timed_out) error = %v", err)
	}
	if got := run.Duration(); got != time.Hour-time.Second {
		t.Errorf("Duration() = %v", got)
	}
	if !run.Reschedulable() {
		t.Errorf("timed out run should be reschedulable")
	}
	if err := run.Transition(RunSucceeded, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("timed_out -> succeeded should fail, got %v", err)
	}
}

func TestRun_Fail(t *testing.T) {
	now := time.Now()

	t.Run("transient failure is retryable", func(t *testing.T) {
		run := NewRun("r", testDefinition(), now)
		_ = run.Transition(RunRunning, now)
		if err := run.Fail(Transient(errors.New("index unavailable")), now); err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
		if !run.Retryable || !run.Reschedulable() {
			t.Errorf("transient failure should be retryable")
		}
		if err := run.Transition(RunPending, now); err != nil {
			t.Errorf("retryable failure should move back to pending: %v", err)
		}
	})

	t.Run("permanent failure blocks", func(t *testing.T) {
		run := NewRun("r", testDefinition(), now)
		_ = run.Transition(RunRunning, now)
		_ = run.Fail(errors.New("invalid api key"), now)
		if run.Retryable || run.Reschedulable() {
			t.Errorf("permanent failure should not be retryable")
		}
		if run.Error != "invalid api key" {
			t.Errorf("Error = %q", run.Error)
		}
		if err := run.Transition(RunPending, now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("terminal failure should not move to pending, got %v", err)
		}
	})
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"unmarked", base, ErrorClassPermanent},
		{"marked transient", Transient(base), ErrorClassTransient},
		{"wrapped transient", fmt.Errorf("embed: %w", Transient(base)), ErrorClassTransient},
		{"marked permanent", Permanent(context.DeadlineExceeded), ErrorClassPermanent},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorClassTransient},
		{"nil", nil, ErrorClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}

	if !errors.Is(Transient(base), ErrTransient) || !errors.Is(Transient(base), base) {
		t.Errorf("Transient() should match ErrTransient and the wrapped error")
	}
	if !errors.Is(Permanent(base), ErrPermanent) {
		t.Errorf("Permanent() should match ErrPermanent")
	}
	if Transient(nil) != nil {
		t.Errorf("Transient(nil) should be nil")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	transient := []int{408, 429, 500, 502, 503}
	permanent := []int{400, 401, 403, 404, 422}

	for _, status := range transient {
		if ClassifyHTTPStatus(status) != ErrorClassTransient {
			t.Errorf("status %d should be transient", status)
		}
	}
	for _, status := range permanent {
		if ClassifyHTTPStatus(status) != ErrorClassPermanent {
			t.Errorf("status %d should be permanent", status)
		}
	}
}
