package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeTypedEvents(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		check func(t *testing.T, ev ServerEvent)
	}{
		{
			name: "session updated",
			raw:  `{"type":"session.updated","session":{"voice":"Rex"}}`,
			check: func(t *testing.T, ev ServerEvent) {
				updated, ok := ev.(SessionUpdated)
				if !ok {
					t.Fatalf("expected SessionUpdated, got %T", ev)
				}
				if updated.Session.Voice != "Rex" {
					t.Fatalf("unexpected voice %q", updated.Session.Voice)
				}
			},
		},
		{
			name: "speech started",
			raw:  `{"type":"input_audio_buffer.speech_started"}`,
			check: func(t *testing.T, ev ServerEvent) {
				if _, ok := ev.(SpeechStarted); !ok {
					t.Fatalf("expected SpeechStarted, got %T", ev)
				}
			},
		},
		{
			name: "audio delta",
			raw:  `{"type":"response.output_audio.delta","delta":"AAECAw=="}`,
			check: func(t *testing.T, ev ServerEvent) {
				delta, ok := ev.(AudioDelta)
				if !ok {
					t.Fatalf("expected AudioDelta, got %T", ev)
				}
				if delta.Delta != "AAECAw==" {
					t.Fatalf("unexpected delta %q", delta.Delta)
				}
			},
		},
		{
			name: "input transcription",
			raw:  `{"type":"conversation.item.input_audio_transcription.completed","transcript":"my vpn is down"}`,
			check: func(t *testing.T, ev ServerEvent) {
				done, ok := ev.(InputTranscriptionCompleted)
				if !ok {
					t.Fatalf("expected InputTranscriptionCompleted, got %T", ev)
				}
				if done.Transcript != "my vpn is down" {
					t.Fatalf("unexpected transcript %q", done.Transcript)
				}
			},
		},
		{
			name: "function started",
			raw:  `{"type":"function.started","function":"create_ticket"}`,
			check: func(t *testing.T, ev ServerEvent) {
				started, ok := ev.(FunctionStarted)
				if !ok {
					t.Fatalf("expected FunctionStarted, got %T", ev)
				}
				if started.Function != "create_ticket" {
					t.Fatalf("unexpected function %q", started.Function)
				}
			},
		},
		{
			name: "function executed",
			raw:  `{"type":"function.executed","function":"create_ticket","args":{"title":"VPN down"},"result":{"success":true,"ticket_id":"TKT-010"}}`,
			check: func(t *testing.T, ev ServerEvent) {
				executed, ok := ev.(FunctionExecuted)
				if !ok {
					t.Fatalf("expected FunctionExecuted, got %T", ev)
				}
				if executed.Result["ticket_id"] != "TKT-010" {
					t.Fatalf("unexpected result %v", executed.Result)
				}
				if executed.Args["title"] != "VPN down" {
					t.Fatalf("unexpected args %v", executed.Args)
				}
			},
		},
		{
			name: "error",
			raw:  `{"type":"error","message":"upstream unavailable"}`,
			check: func(t *testing.T, ev ServerEvent) {
				errEvent, ok := ev.(ErrorEvent)
				if !ok {
					t.Fatalf("expected ErrorEvent, got %T", ev)
				}
				if errEvent.Message != "upstream unavailable" {
					t.Fatalf("unexpected message %q", errEvent.Message)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode([]byte(tc.raw))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			tc.check(t, ev)
		})
	}
}

func TestDecodeUnknownTypeDropped(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"rate_limits.updated","limits":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected unknown event to decode to nil, got %T", ev)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for truncated frame")
	}
	if _, err := Decode([]byte(`{"delta":"abc"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestNewMessageItemRoles(t *testing.T) {
	user := NewMessageItem("user", "printer jammed")
	if user.Item.Content[0].Type != "input_text" {
		t.Fatalf("expected input_text for user turn, got %q", user.Item.Content[0].Type)
	}
	assistant := NewMessageItem("assistant", "Try clearing tray two.")
	if assistant.Item.Content[0].Type != "text" {
		t.Fatalf("expected text for assistant turn, got %q", assistant.Item.Content[0].Type)
	}

	data, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal item: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if round["type"] != "conversation.item.create" {
		t.Fatalf("unexpected wire type %v", round["type"])
	}
}
