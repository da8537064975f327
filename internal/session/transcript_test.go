package session

import (
	"testing"
	"time"
)

func newTestTranscript() *Transcript {
	tr := NewTranscript()
	tick := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr.clock = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return tr
}

func TestTranscriptAppendOrder(t *testing.T) {
	tr := newTestTranscript()
	tr.AppendUser("reset my password")
	tr.StartCall("create_ticket")
	tr.CompleteCall("create_ticket", map[string]any{"title": "reset"}, map[string]any{"ticket_id": "TKT-001", "success": true})
	tr.AppendAssistant("I opened TKT-001 for you.")

	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantKinds := []EntryKind{EntryUser, EntryFunctionCall, EntryAssistant}
	for i, kind := range wantKinds {
		if entries[i].Kind != kind {
			t.Fatalf("entry %d: expected kind %s, got %s", i, kind, entries[i].Kind)
		}
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("entry %d timestamp regressed", i)
		}
	}
}

func TestTranscriptSinglePendingCallPerFunction(t *testing.T) {
	tr := newTestTranscript()
	first := tr.StartCall("create_ticket")
	second := tr.StartCall("create_ticket")
	if first.ID != second.ID {
		t.Fatalf("second start created a new entry: %s vs %s", first.ID, second.ID)
	}
	if got := len(tr.Entries()); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}

	done := tr.CompleteCall("create_ticket", nil, map[string]any{"ticket_id": "TKT-002", "success": true})
	if done.ID != first.ID {
		t.Fatalf("completion resolved a different entry")
	}
	if done.Status != CallDone {
		t.Fatalf("expected status %s, got %s", CallDone, done.Status)
	}

	// A fresh start after completion is a new call.
	third := tr.StartCall("create_ticket")
	if third.ID == first.ID {
		t.Fatalf("expected a new entry after completion")
	}
}

func TestTranscriptCompleteWithoutPendingAppendsDone(t *testing.T) {
	tr := newTestTranscript()
	e := tr.CompleteCall("get_ticket", map[string]any{"ticket_id": "TKT-003"}, map[string]any{"status": "open"})
	if e.Status != CallDone {
		t.Fatalf("expected status %s, got %s", CallDone, e.Status)
	}
	if got := len(tr.Entries()); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
}

func TestTranscriptDistinctFunctionsPendingConcurrently(t *testing.T) {
	tr := newTestTranscript()
	a := tr.StartCall("create_ticket")
	b := tr.StartCall("search_knowledge_base")
	if a.ID == b.ID {
		t.Fatalf("distinct functions should get distinct entries")
	}
	done := tr.CompleteCall("create_ticket", nil, nil)
	if done.ID != a.ID {
		t.Fatalf("completion matched the wrong function")
	}
	entries := tr.Entries()
	if entries[1].Status != CallPending {
		t.Fatalf("unrelated call should remain pending")
	}
}

func TestTranscriptRecentTurns(t *testing.T) {
	tr := newTestTranscript()
	tr.AppendNotice("Reconnecting...")
	tr.AppendUser("u1")
	tr.AppendAssistant("a1")
	tr.StartCall("create_ticket")
	tr.AppendUser("u2")
	tr.AppendAssistant("a2")

	turns := tr.RecentTurns(3)
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	want := []string{"a1", "u2", "a2"}
	for i, text := range want {
		if turns[i].Text != text {
			t.Fatalf("turn %d: expected %q, got %q", i, text, turns[i].Text)
		}
	}

	if got := tr.RecentTurns(0); len(got) != 0 {
		t.Fatalf("expected no turns for zero limit, got %d", len(got))
	}
}

func TestTranscriptResetClearsEntries(t *testing.T) {
	tr := newTestTranscript()
	tr.AppendUser("hello")
	tr.Reset()
	if got := len(tr.Entries()); got != 0 {
		t.Fatalf("expected empty transcript after reset, got %d entries", got)
	}
}
