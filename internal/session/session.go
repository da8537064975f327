// Package session implements the realtime voice session: the
// conversation state machine, the transcript, and the reconnection
// controller that makes transport drops invisible to the user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rexdesk/rex-core/internal/audio"
	"github.com/rexdesk/rex-core/internal/desk"
	"github.com/rexdesk/rex-core/internal/protocol"
	"github.com/rexdesk/rex-core/internal/transport"
)

// State is the single UI-facing session state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateError      State = "error"
)

// Conn is the session's view of one open transport connection. Events
// must not be delivered until Start is called; Connect relies on that
// to install the connection before the first inbound event.
type Conn interface {
	Start()
	Send(msg any)
	MarkReady()
	Close()
}

// Transport opens transport connections to the realtime gateway.
type Transport interface {
	Dial(ctx context.Context, onEvent func(protocol.ServerEvent), onClosed func(transport.CloseCause)) (Conn, error)
}

// Capture is the microphone pipeline.
type Capture interface {
	Start(sink func(frame string)) error
	Stop()
}

// Playback is the speech output scheduler.
type Playback interface {
	Play(frame string)
	Resume() error
	Interrupt()
	Stop()
}

// Notifier receives fire-and-forget hints that ticket data changed.
type Notifier interface {
	TicketsChanged()
}

// Recorder persists transcript entries as they are appended or
// resolved. Implementations absorb their own failures.
type Recorder interface {
	Record(sessionID string, e Entry)
}

type noopNotifier struct{}

func (noopNotifier) TicketsChanged() {}

type noopRecorder struct{}

func (noopRecorder) Record(string, Entry) {}

// Config tunes reconnection behavior.
type Config struct {
	ReconnectEnabled bool
	ReconnectBackoff time.Duration
	ReplayTurns      int
	PreserveContext  bool
}

// Deps are the session's collaborators.
type Deps struct {
	Transport Transport
	Capture   Capture
	Playback  Playback
	Notifier  Notifier
	Recorder  Recorder
}

// resumeInstruction is sent after history replay so the model picks the
// conversation back up without re-greeting.
const resumeInstruction = "The connection was briefly interrupted and has been restored. " +
	"The prior conversation turns were replayed above. Continue the conversation naturally: " +
	"do not greet the user again and do not ask them to repeat anything."

// Session owns one logical voice conversation, which may span several
// transport connections. All event and command processing is serialized
// through one mutex; readers only ever get snapshots.
type Session struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	// schedule is the reconnect timer hook; replaced in tests.
	schedule func(d time.Duration, f func())

	mu         sync.Mutex
	id         string
	state      State
	transcript *Transcript
	conn       Conn
	armed      bool
	resuming   bool
	streamBuf  strings.Builder
	lastError  string
	agentVoice string
	onState    func(State)

	metrics sessionMetrics
}

func New(cfg Config, deps Deps, log *slog.Logger) *Session {
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 1200 * time.Millisecond
	}
	s := &Session{
		cfg:        cfg,
		deps:       deps,
		log:        log.With(slog.String("component", "voice-session")),
		schedule:   func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		state:      StateIdle,
		transcript: NewTranscript(),
		metrics:    newSessionMetrics(log),
	}
	return s
}

// OnStateChange registers a single observer for state transitions. Must
// be set before Connect.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// Connect opens a transport connection and starts the audio pipelines.
// Valid only from idle or error. The same path serves fresh sessions
// and reconnect resumes; the resuming flag is the only difference.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateError {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot connect while %s", state)
	}
	resuming := s.resuming && s.cfg.PreserveContext
	s.armed = s.cfg.ReconnectEnabled
	s.setStateLocked(StateConnecting)
	if resuming {
		s.recordLocked(s.transcript.AppendNotice("Reconnecting..."))
	} else {
		s.resuming = false
		s.id = uuid.NewString()
		s.transcript.Reset()
		s.streamBuf.Reset()
	}
	s.lastError = ""
	s.mu.Unlock()

	conn, err := s.deps.Transport.Dial(ctx, s.handleEvent, s.handleClosed)
	if err != nil {
		s.mu.Lock()
		s.resuming = false
		if s.state == StateConnecting {
			s.armed = false
			s.failLocked(fmt.Sprintf("could not reach the voice service: %v", err))
		}
		s.mu.Unlock()
		return err
	}

	// Install the connection before the read loop starts so the first
	// inbound event already sees it. A Disconnect that raced the dial
	// has moved the state off connecting; in that case the new
	// connection must not survive it.
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		conn.Close()
		return errors.New("connection cancelled")
	}
	s.conn = conn
	s.mu.Unlock()

	if err := s.deps.Capture.Start(s.sendFrame); err != nil {
		s.mu.Lock()
		s.armed = false
		s.resuming = false
		s.conn = nil
		s.failLocked(captureGuidance(err))
		s.mu.Unlock()
		conn.Close()
		return err
	}

	s.mu.Lock()
	if s.conn != conn {
		// Disconnect won the race while the microphone was starting.
		s.mu.Unlock()
		s.deps.Capture.Stop()
		conn.Close()
		return errors.New("connection cancelled")
	}
	s.mu.Unlock()

	if err := s.deps.Playback.Resume(); err != nil {
		s.log.Warn("audio output resume failed", slog.String("error", err.Error()))
	}

	conn.Start()
	s.log.Info("voice session connecting", slog.String("session_id", s.ID()), slog.Bool("resuming", resuming))
	return nil
}

// Disconnect ends the conversation. Safe from any state: it disarms
// reconnection, closes the transport, and releases both audio devices
// before returning. A reconnect timer that fires afterwards finds the
// armed flag down and does nothing.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.armed = false
	s.resuming = false
	conn := s.conn
	s.conn = nil
	s.streamBuf.Reset()
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	// Device teardown happens outside the lock: stopping capture waits
	// for the in-flight data callback, and that callback takes the lock
	// in sendFrame.
	s.deps.Capture.Stop()
	s.deps.Playback.Stop()
	if conn != nil {
		// Drop any uncommitted mic audio upstream before closing so the
		// remote side does not respond to a half-heard utterance.
		conn.Send(protocol.NewAudioClear())
		conn.Close()
	}
	s.log.Info("voice session disconnected", slog.String("session_id", s.ID()))
}

// ID returns the logical session id, stable across reconnects.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot is a read-only view for UIs.
type Snapshot struct {
	SessionID  string  `json:"session_id"`
	State      State   `json:"state"`
	AgentVoice string  `json:"agent_voice,omitempty"`
	LastError  string  `json:"last_error,omitempty"`
	Transcript []Entry `json:"transcript"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:  s.id,
		State:      s.state,
		AgentVoice: s.agentVoice,
		LastError:  s.lastError,
		Transcript: s.transcript.Entries(),
	}
}

// sendFrame forwards one encoded capture frame to the transport. Runs
// on the capture callback path, so it only grabs the conn reference
// under the lock and writes outside it.
func (s *Session) sendFrame(frame string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Send(protocol.NewAudioAppend(frame))
	s.metrics.addFrame()
}

// handleEvent is the interpreter: one inbound event in, one transition
// out. The transport delivers events strictly in arrival order.
func (s *Session) handleEvent(ev protocol.ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.addEvent()

	switch ev := ev.(type) {
	case protocol.SessionUpdated:
		if ev.Session.Voice != "" {
			s.agentVoice = ev.Session.Voice
		}
		if s.state != StateConnecting {
			return
		}
		if s.conn != nil {
			s.conn.MarkReady()
		}
		s.setStateLocked(StateActive)
		if s.resuming {
			s.replayHistoryLocked()
			s.resuming = false
		}

	case protocol.SpeechStarted:
		if s.state != StateActive && s.state != StateSpeaking {
			return
		}
		if s.state == StateSpeaking {
			s.deps.Playback.Interrupt()
		}
		s.setStateLocked(StateListening)

	case protocol.SpeechStopped:
		if s.state == StateListening {
			s.setStateLocked(StateProcessing)
		}

	case protocol.ResponseCreated:
		if s.state == StateProcessing || s.state == StateActive {
			s.streamBuf.Reset()
			s.setStateLocked(StateSpeaking)
		}

	case protocol.AudioDelta:
		s.deps.Playback.Play(ev.Delta)

	case protocol.TranscriptDelta:
		s.streamBuf.WriteString(ev.Delta)

	case protocol.TranscriptDone:
		if text := s.streamBuf.String(); text != "" {
			s.recordLocked(s.transcript.AppendAssistant(text))
		}
		s.streamBuf.Reset()
		if s.state == StateSpeaking {
			s.setStateLocked(StateActive)
		}

	case protocol.InputTranscriptionCompleted:
		if ev.Transcript != "" {
			s.recordLocked(s.transcript.AppendUser(ev.Transcript))
		}

	case protocol.FunctionStarted:
		s.recordLocked(s.transcript.StartCall(ev.Function))
		switch s.state {
		case StateActive, StateListening, StateProcessing, StateSpeaking:
			s.setStateLocked(StateProcessing)
		}

	case protocol.FunctionExecuted:
		s.recordLocked(s.transcript.CompleteCall(ev.Function, ev.Args, ev.Result))
		if s.state == StateProcessing {
			s.setStateLocked(StateSpeaking)
		}
		if desk.MutatesTickets(ev.Function) {
			// Fire-and-forget; the notifier absorbs failures.
			s.deps.Notifier.TicketsChanged()
		}

	case protocol.ResponseDone:
		// The transcript-done event already returned us to active.

	case protocol.ErrorEvent:
		s.failLocked(ev.Message)
	}
}

// handleClosed classifies a dropped connection. Only an unexpected loss
// of a ready session is recoverable.
func (s *Session) handleClosed(cause transport.CloseCause) {
	s.mu.Lock()

	switch cause {
	case transport.CauseLocal:
		// Disconnect already cleaned up.
		s.mu.Unlock()
		return

	case transport.CauseFailedBeforeReady:
		s.armed = false
		s.resuming = false
		s.conn = nil
		s.failLocked("the voice service closed the connection before the session started")
		s.mu.Unlock()
		s.deps.Capture.Stop()
		return

	case transport.CauseLostAfterReady:
		s.conn = nil
		s.streamBuf.Reset()
		if s.state != StateError {
			s.setStateLocked(StateIdle)
		}
		armed := s.armed
		if armed {
			s.resuming = s.cfg.PreserveContext
			s.log.Info("voice session lost, reconnecting",
				slog.String("session_id", s.id),
				slog.Duration("backoff", s.cfg.ReconnectBackoff))
		}
		s.mu.Unlock()

		// Same lock-order constraint as Disconnect.
		s.deps.Capture.Stop()
		s.deps.Playback.Interrupt()
		if armed {
			s.schedule(s.cfg.ReconnectBackoff, s.attemptReconnect)
		}
		return
	}
	s.mu.Unlock()
}

// attemptReconnect runs when the backoff timer fires. The armed flag is
// re-checked here, not at scheduling time, so a Disconnect in the
// meantime neutralizes the attempt.
func (s *Session) attemptReconnect() {
	s.mu.Lock()
	if !s.armed || s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.metrics.addReconnect()
	if err := s.Connect(context.Background()); err != nil {
		s.log.Warn("reconnect attempt failed", slog.String("error", err.Error()))
	}
}

// replayHistoryLocked re-sends recent turns to the fresh connection,
// then the resume instruction, then a request for an immediate
// response. Send order is the only ordering guarantee the remote side
// offers, and it is assumed sufficient.
func (s *Session) replayHistoryLocked() {
	conn := s.conn
	if conn == nil {
		return
	}
	for _, turn := range s.transcript.RecentTurns(s.cfg.ReplayTurns) {
		role := "user"
		if turn.Kind == EntryAssistant {
			role = "assistant"
		}
		conn.Send(protocol.NewMessageItem(role, turn.Text))
	}
	conn.Send(protocol.NewMessageItem("system", resumeInstruction))
	conn.Send(protocol.NewResponseCreate())
	s.log.Info("replayed conversation history", slog.String("session_id", s.id))
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.onState != nil {
		s.onState(next)
	}
}

func (s *Session) failLocked(msg string) {
	s.lastError = msg
	s.setStateLocked(StateError)
	s.log.Error("voice session error", slog.String("session_id", s.id), slog.String("error", msg))
}

func (s *Session) recordLocked(e Entry) {
	s.deps.Recorder.Record(s.id, e)
}

// captureGuidance tailors the user-facing message to the two capture
// failure causes, since remediation differs.
func captureGuidance(err error) string {
	switch {
	case errors.Is(err, audio.ErrNoCaptureDevice):
		return "no microphone is available on this machine; run the voice client on a host with audio capture hardware"
	case errors.Is(err, audio.ErrCaptureAccessDenied):
		return "microphone access was denied; grant audio capture permission and reconnect"
	default:
		return fmt.Sprintf("microphone could not be started: %v", err)
	}
}
