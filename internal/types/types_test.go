package types

import (
	"errors"
	"testing"
)

func TestEntityValidate(t *testing.T) {
	cases := []struct {
		name   string
		entity Entity
		ok     bool
	}{
		{"valid task", Entity{Kind: KindTask, Title: "t", Task: &TaskFields{Status: TaskOpen}}, true},
		{"valid context", Entity{Kind: KindContext, Title: "t", Context: &ContextFields{}}, true},
		{"valid reasoning", Entity{Kind: KindReasoning, Title: "t", Reasoning: &ReasoningFields{Confidence: 0.5}}, true},
		{"empty title", Entity{Kind: KindTask, Task: &TaskFields{Status: TaskOpen}}, false},
		{"unknown kind", Entity{Kind: "widget", Title: "t"}, false},
		{"task without fields", Entity{Kind: KindTask, Title: "t"}, false},
		{"bad status", Entity{Kind: KindTask, Title: "t", Task: &TaskFields{Status: "paused"}}, false},
		{"confidence too high", Entity{Kind: KindReasoning, Title: "t", Reasoning: &ReasoningFields{Confidence: 1.1}}, false},
		{"confidence negative", Entity{Kind: KindReasoning, Title: "t", Reasoning: &ReasoningFields{Confidence: -0.1}}, false},
	}
	for _, c := range cases {
		err := c.entity.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok {
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("%s: expected ErrInvalid, got %v", c.name, err)
			}
		}
	}
}

func TestValidTaskStatus(t *testing.T) {
	for _, s := range []TaskStatus{TaskOpen, TaskInProgress, TaskBlocked, TaskDone} {
		if !ValidTaskStatus(s) {
			t.Errorf("Expected %q valid", s)
		}
	}
	if ValidTaskStatus("paused") {
		t.Error("Expected unknown status invalid")
	}
}
