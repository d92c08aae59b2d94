// Package realtime is the websocket client for the realtime media service
// that hosts the agent's voice session. Audio never crosses this
// connection; it carries session control and final transcripts.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultHandshakeTimeout = 10 * time.Second

// Frame types on the wire.
const (
	TypeSessionStart   = "session.start"
	TypeSessionReady   = "session.ready"
	TypeAgentStart     = "agent.start"
	TypeAgentStarted   = "agent.started"
	TypeResponseCreate = "response.create"
	TypeAgentSay       = "agent.say"
	TypeTranscript     = "transcript.final"
	TypeError          = "error"
)

// Frame is the single JSON envelope used in both directions.
type Frame struct {
	Type         string `json:"type"`
	Room         string `json:"room,omitempty"`
	Identity     string `json:"identity,omitempty"`
	AgentName    string `json:"agent_name,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Text         string `json:"text,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Error reports a failed connect or start. Stage is "dial", "negotiate" or
// "start"; callers retrying startup treat all stages alike.
type Error struct {
	Stage string
	URL   string
	Code  string
	Err   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime %s %s: %s: %v", e.Stage, e.URL, e.Code, e.Err)
	}
	return fmt.Sprintf("realtime %s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Options struct {
	URL       string
	Token     string
	Room      string
	Identity  string
	AgentName string

	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
	Logger           *slog.Logger
}

type Dialer struct {
	opts Options
}

func NewDialer(opts Options) (*Dialer, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("realtime: url is required")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dialer{opts: opts}, nil
}

// Connect dials the service and negotiates a session for the configured
// room. It returns once session.ready arrives.
func (d *Dialer) Connect(ctx context.Context) (*Session, error) {
	headers := make(http.Header)
	if d.opts.Token != "" {
		headers.Set("Authorization", "Bearer "+d.opts.Token)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.opts.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := d.opts.Dialer.DialContext(dialCtx, d.opts.URL, headers)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, &Error{Stage: "dial", URL: d.opts.URL, Err: err}
	}

	fail := func(code string, err error) (*Session, error) {
		_ = conn.Close()
		return nil, &Error{Stage: "negotiate", URL: d.opts.URL, Code: code, Err: err}
	}

	if err := conn.WriteJSON(Frame{
		Type:      TypeSessionStart,
		Room:      d.opts.Room,
		Identity:  d.opts.Identity,
		AgentName: d.opts.AgentName,
	}); err != nil {
		return fail("", fmt.Errorf("send session.start: %w", err))
	}

	f, err := readFrame(dialCtx, conn, d.opts.HandshakeTimeout)
	if err != nil {
		return fail("", fmt.Errorf("read session.ready: %w", err))
	}
	switch f.Type {
	case TypeSessionReady:
	case TypeError:
		return fail(f.Code, errors.New(strings.TrimSpace(f.Message)))
	default:
		return fail("", fmt.Errorf("unexpected first frame %q", f.Type))
	}

	return &Session{
		id:         f.SessionID,
		url:        d.opts.URL,
		agentName:  d.opts.AgentName,
		conn:       conn,
		timeout:    d.opts.HandshakeTimeout,
		logger:     d.opts.Logger,
		utterances: make(chan Utterance, 64),
		done:       make(chan struct{}),
	}, nil
}

// readFrame reads one text frame, bounded by ctx and timeout. Cancelling
// ctx unblocks the read at once.
func readFrame(ctx context.Context, conn *websocket.Conn, timeout time.Duration) (Frame, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		return Frame{}, err
	}
	if messageType != websocket.TextMessage {
		return Frame{}, fmt.Errorf("unexpected frame type %d", messageType)
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Utterance is one final user transcript.
type Utterance struct {
	UserID string
	Text   string
}

type Session struct {
	id        string
	url       string
	agentName string
	conn      *websocket.Conn
	timeout   time.Duration
	logger    *slog.Logger

	utterances chan Utterance
	done       chan struct{}

	started   atomic.Bool
	looping   atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func (s *Session) ID() string { return s.id }

// Start asks the service to attach the agent and waits for agent.started.
// After Start the session reads frames in the background.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("realtime: session already started")
	}
	if err := s.sendJSON(Frame{Type: TypeAgentStart, AgentName: s.agentName}); err != nil {
		return &Error{Stage: "start", URL: s.url, Err: err}
	}
	f, err := readFrame(ctx, s.conn, s.timeout)
	if err != nil {
		return &Error{Stage: "start", URL: s.url, Err: err}
	}
	switch f.Type {
	case TypeAgentStarted:
	case TypeError:
		return &Error{Stage: "start", URL: s.url, Code: f.Code, Err: errors.New(strings.TrimSpace(f.Message))}
	default:
		return &Error{Stage: "start", URL: s.url, Err: fmt.Errorf("unexpected frame %q", f.Type)}
	}
	s.looping.Store(true)
	go s.readLoop()
	return nil
}

// GenerateReply asks the service to produce a spoken reply following
// instructions.
func (s *Session) GenerateReply(ctx context.Context, instructions string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sendJSON(Frame{Type: TypeResponseCreate, Instructions: instructions})
}

// Say speaks text verbatim.
func (s *Session) Say(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sendJSON(Frame{Type: TypeAgentSay, Text: text})
}

// Utterances yields final user transcripts. It is closed when the session
// ends.
func (s *Session) Utterances() <-chan Utterance {
	return s.utterances
}

// Done is closed when the read loop exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal session error once the session has ended.
func (s *Session) Err() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
		if !s.looping.Load() {
			close(s.utterances)
			close(s.done)
		}
	})
	<-s.done
	return nil
}

func (s *Session) sendJSON(v any) error {
	if s.closed.Load() {
		return errors.New("realtime: session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.utterances)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("realtime: dropping undecodable frame", "err", err)
			continue
		}
		switch f.Type {
		case TypeTranscript:
			select {
			case s.utterances <- Utterance{UserID: f.UserID, Text: f.Text}:
			default:
				s.logger.Warn("realtime: utterance dropped, consumer is behind", "user_id", f.UserID)
			}
		case TypeError:
			s.setErr(&Error{Stage: "session", URL: s.url, Code: f.Code, Err: errors.New(strings.TrimSpace(f.Message))})
			return
		}
	}
}
