package stream

import (
	"fmt"
	"testing"
)

func TestTranscriptAppendAndTake(t *testing.T) {
	tr := NewTranscript()
	tr.Append("s1", " hello ")
	tr.Append("s1", "")
	tr.Append("s1", "world")
	tr.Append("s2", "other")

	if got := tr.Current("s1"); got != "hello world" {
		t.Errorf("Current = %q", got)
	}
	if got := tr.Take("s1"); got != "hello world" {
		t.Errorf("Take = %q", got)
	}
	if tr.Append("s1", "late") {
		t.Error("append after take should be rejected")
	}
	if got := tr.Take("s1"); got != "" {
		t.Errorf("second Take = %q", got)
	}
	if !tr.Closed("s1") || tr.Closed("s2") {
		t.Error("Closed reports the wrong sessions")
	}
	if tr.Last() != "hello world" {
		t.Errorf("Last = %q", tr.Last())
	}
}

func TestTranscriptTakeEmptyKeepsLast(t *testing.T) {
	tr := NewTranscript()
	tr.Append("s1", "kept")
	tr.Take("s1")
	tr.Take("s2")

	if tr.Last() != "kept" {
		t.Errorf("Last = %q", tr.Last())
	}
}

func TestTranscriptForgetsOldSessions(t *testing.T) {
	tr := NewTranscript()
	for i := 0; i < closedHistory*3; i++ {
		id := fmt.Sprintf("s%d", i)
		tr.Append(id, "text")
		tr.Take(id)
		tr.Take(id)
	}

	if len(tr.closed) != closedHistory || len(tr.order) != closedHistory {
		t.Fatalf("closed=%d order=%d, want %d", len(tr.closed), len(tr.order), closedHistory)
	}
	newest := fmt.Sprintf("s%d", closedHistory*3-1)
	if !tr.Closed(newest) || tr.Append(newest, "late") {
		t.Error("most recent session should still reject late text")
	}
	if tr.Closed("s0") {
		t.Error("oldest session should have been forgotten")
	}
	if len(tr.open) != 0 {
		t.Errorf("open = %d", len(tr.open))
	}
}
