// Package transport owns a single duplex websocket connection to the
// service-desk realtime gateway.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rexdesk/rex-core/internal/protocol"
)

// CloseCause classifies why a connection ended, so the reconnection
// controller can decide whether the loss is recoverable.
type CloseCause int

const (
	// CauseLocal is an explicit local Close.
	CauseLocal CloseCause = iota
	// CauseFailedBeforeReady is a remote or network failure before the
	// session was ever acknowledged ready.
	CauseFailedBeforeReady
	// CauseLostAfterReady is an unexpected closure of a session that had
	// been acknowledged ready. Only this cause is reconnectable.
	CauseLostAfterReady
)

func (c CloseCause) String() string {
	switch c {
	case CauseLocal:
		return "local_close"
	case CauseFailedBeforeReady:
		return "failed_before_ready"
	case CauseLostAfterReady:
		return "lost_after_ready"
	default:
		return "unknown"
	}
}

// Session is one open websocket connection. Inbound frames are decoded
// and handed one at a time, in arrival order, to the event callback;
// malformed frames are dropped.
type Session struct {
	conn *websocket.Conn
	log  *slog.Logger

	onEvent  func(protocol.ServerEvent)
	onClosed func(CloseCause)

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	ready     atomic.Bool
}

// Dial opens the websocket connection. No events are delivered until
// Start is called, so the caller can finish installing the session
// before the first inbound frame is read.
func Dial(ctx context.Context, url string, header http.Header, onEvent func(protocol.ServerEvent), onClosed func(CloseCause), log *slog.Logger) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	if resp != nil {
		resp.Body.Close()
	}

	return &Session{
		conn:     conn,
		log:      log.With(slog.String("component", "transport")),
		onEvent:  onEvent,
		onClosed: onClosed,
	}, nil
}

// Start begins the read loop. Idempotent.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.readLoop()
	})
}

// MarkReady records that the remote acknowledged the session; closure
// after this point is classified as recoverable loss.
func (s *Session) MarkReady() {
	s.ready.Store(true)
}

// Send serializes one protocol message onto the connection. Sending on
// a closed session is a silent no-op; transient write failures are
// logged and absorbed.
func (s *Session) Send(msg any) {
	if s == nil || s.closed.Load() {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.log.Debug("websocket write failed", slog.String("error", err.Error()))
	}
}

// Close shuts the connection down. Safe to call more than once.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.onClosed(s.closeCause())
			return
		}

		event, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			s.log.Warn("dropping malformed event", slog.String("error", decodeErr.Error()))
			continue
		}
		if event == nil {
			continue
		}
		s.onEvent(event)
	}
}

func (s *Session) closeCause() CloseCause {
	if s.closed.Load() {
		return CauseLocal
	}
	if !s.ready.Load() {
		return CauseFailedBeforeReady
	}
	return CauseLostAfterReady
}
