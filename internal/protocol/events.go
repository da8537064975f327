// Package protocol defines the realtime gateway wire messages: the
// closed set of inbound server events and the outbound client
// messages the session produces.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ServerEvent is one decoded inbound gateway event.
type ServerEvent interface {
	eventType() string
}

// SessionUpdated acknowledges the session configuration; the first one
// on a connection marks the transport ready.
type SessionUpdated struct {
	Session SessionInfo `json:"session"`
}

// SessionInfo echoes the agent configuration applied by the gateway.
type SessionInfo struct {
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// SpeechStarted reports server-side voice activity detection.
type SpeechStarted struct{}

// SpeechStopped reports the end of detected user speech.
type SpeechStopped struct{}

// ResponseCreated marks the start of a model response.
type ResponseCreated struct{}

// AudioDelta carries one base64-encoded PCM chunk of synthesized speech.
type AudioDelta struct {
	Delta string `json:"delta"`
}

// TranscriptDelta streams the text of the speech being synthesized.
type TranscriptDelta struct {
	Delta string `json:"delta"`
}

// TranscriptDone marks the end of the streamed response transcript.
type TranscriptDone struct{}

// InputTranscriptionCompleted carries the final transcript of captured
// user speech.
type InputTranscriptionCompleted struct {
	Transcript string `json:"transcript"`
}

// FunctionStarted announces a tool invocation on the gateway.
type FunctionStarted struct {
	Function string `json:"function"`
}

// FunctionExecuted reports a completed tool invocation with its result.
type FunctionExecuted struct {
	Function string         `json:"function"`
	Args     map[string]any `json:"args"`
	Result   map[string]any `json:"result"`
}

// ResponseDone marks the end of a model response.
type ResponseDone struct{}

// ErrorEvent is a remote-reported application error.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (SessionUpdated) eventType() string              { return TypeSessionUpdated }
func (SpeechStarted) eventType() string               { return TypeSpeechStarted }
func (SpeechStopped) eventType() string               { return TypeSpeechStopped }
func (ResponseCreated) eventType() string             { return TypeResponseCreated }
func (AudioDelta) eventType() string                  { return TypeAudioDelta }
func (TranscriptDelta) eventType() string             { return TypeTranscriptDelta }
func (TranscriptDone) eventType() string              { return TypeTranscriptDone }
func (InputTranscriptionCompleted) eventType() string { return TypeInputTranscription }
func (FunctionStarted) eventType() string             { return TypeFunctionStarted }
func (FunctionExecuted) eventType() string            { return TypeFunctionExecuted }
func (ResponseDone) eventType() string                { return TypeResponseDone }
func (ErrorEvent) eventType() string                  { return TypeError }

// Inbound event type tags.
const (
	TypeSessionUpdated     = "session.updated"
	TypeSpeechStarted      = "input_audio_buffer.speech_started"
	TypeSpeechStopped      = "input_audio_buffer.speech_stopped"
	TypeResponseCreated    = "response.created"
	TypeAudioDelta         = "response.output_audio.delta"
	TypeTranscriptDelta    = "response.output_audio_transcript.delta"
	TypeTranscriptDone     = "response.output_audio_transcript.done"
	TypeInputTranscription = "conversation.item.input_audio_transcription.completed"
	TypeFunctionStarted    = "function.started"
	TypeFunctionExecuted   = "function.executed"
	TypeResponseDone       = "response.done"
	TypeError              = "error"
)

// Decode parses one inbound frame into its typed event. Unknown event
// types decode to (nil, nil) so the caller can drop them; a malformed
// frame returns an error.
func Decode(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("event missing type")
	}

	switch typ {
	case TypeSessionUpdated:
		var ev SessionUpdated
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ev, nil
	case TypeSpeechStarted:
		return SpeechStarted{}, nil
	case TypeSpeechStopped:
		return SpeechStopped{}, nil
	case TypeResponseCreated:
		return ResponseCreated{}, nil
	case TypeAudioDelta:
		var ev AudioDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ev, nil
	case TypeTranscriptDelta:
		var ev TranscriptDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ev, nil
	case TypeTranscriptDone:
		return TranscriptDone{}, nil
	case TypeInputTranscription:
		var ev InputTranscriptionCompleted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ev, nil
	case TypeFunctionStarted:
		var ev FunctionStarted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ev, nil
	case TypeFunctionExecuted:
		var ev FunctionExecuted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ev, nil
	case TypeResponseDone:
		return ResponseDone{}, nil
	case TypeError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ev, nil
	default:
		return nil, nil
	}
}
