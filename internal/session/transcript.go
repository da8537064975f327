package session

import (
	"time"

	"github.com/google/uuid"
)

type EntryKind string

const (
	EntryUser         EntryKind = "user"
	EntryAssistant    EntryKind = "assistant"
	EntryFunctionCall EntryKind = "function_call"
	EntryNotice       EntryKind = "notice"
)

type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallDone    CallStatus = "done"
)

// Entry is one transcript line. Function-call entries are the only
// kind mutated after append: they move from pending to done once.
type Entry struct {
	ID        string         `json:"id"`
	Kind      EntryKind      `json:"kind"`
	Text      string         `json:"text,omitempty"`
	Function  string         `json:"function,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Status    CallStatus     `json:"status,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Transcript is the ordered, append-only record of one session. It is
// not safe for concurrent use; the owning session serializes access and
// readers only see snapshots.
type Transcript struct {
	clock   func() time.Time
	entries []Entry
}

func NewTranscript() *Transcript {
	return &Transcript{clock: time.Now}
}

// Reset clears the transcript for a fresh (non-resumed) session.
func (t *Transcript) Reset() {
	t.entries = nil
}

func (t *Transcript) AppendUser(text string) Entry {
	return t.append(Entry{Kind: EntryUser, Text: text})
}

func (t *Transcript) AppendAssistant(text string) Entry {
	return t.append(Entry{Kind: EntryAssistant, Text: text})
}

func (t *Transcript) AppendNotice(text string) Entry {
	return t.append(Entry{Kind: EntryNotice, Text: text})
}

// StartCall appends a pending function-call entry. If a pending entry
// for the same function already exists it is returned unchanged, so no
// two pending entries ever share a function.
func (t *Transcript) StartCall(function string) Entry {
	if i := t.lastPendingIndex(function); i >= 0 {
		return t.entries[i]
	}
	return t.append(Entry{
		Kind:     EntryFunctionCall,
		Function: function,
		Status:   CallPending,
	})
}

// CompleteCall resolves the most recent pending entry for the function
// to done. If no pending entry matches (for example, lost across a
// reconnect) a new already-done entry is appended instead.
func (t *Transcript) CompleteCall(function string, args, result map[string]any) Entry {
	if i := t.lastPendingIndex(function); i >= 0 {
		t.entries[i].Status = CallDone
		t.entries[i].Args = args
		t.entries[i].Result = result
		return t.entries[i]
	}
	return t.append(Entry{
		Kind:     EntryFunctionCall,
		Function: function,
		Args:     args,
		Result:   result,
		Status:   CallDone,
	})
}

func (t *Transcript) lastPendingIndex(function string) int {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.Kind == EntryFunctionCall && e.Function == function && e.Status == CallPending {
			return i
		}
	}
	return -1
}

// Entries returns a snapshot copy.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// RecentTurns returns up to n of the most recent user and assistant
// utterances, in order, for history replay.
func (t *Transcript) RecentTurns(n int) []Entry {
	if n <= 0 {
		return nil
	}
	var turns []Entry
	for _, e := range t.entries {
		if e.Kind == EntryUser || e.Kind == EntryAssistant {
			turns = append(turns, e)
		}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

func (t *Transcript) append(e Entry) Entry {
	e.ID = uuid.NewString()
	e.Timestamp = t.clock().UTC()
	t.entries = append(t.entries, e)
	return e
}
