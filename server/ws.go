package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/budget"
	"github.com/patienthub/patienthub-go/session"
	"github.com/patienthub/patienthub-go/therapists"
)

const (
	maxMessageSize = 64 * 1024
	writeWait      = 10 * time.Second
)

// Frame types.
const (
	FrameSession = "session"
	FrameTurn    = "turn"
	FrameEnd     = "end"
	FrameError   = "error"
)

// Frame is one outbound websocket message.
type Frame struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Turn      int                    `json:"turn,omitempty"`
	MaxTurns  int                    `json:"max_turns,omitempty"`
	Speaker   string                 `json:"speaker,omitempty"`
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	EndReason string                 `json:"end_reason,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// socket serializes writes to one connection.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socket) send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

func (s *socket) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// handleWebSocket runs one session with the connected human as therapist.
// Inbound text frames are therapist turns, either raw text or
// {"content": "..."}. Closing the socket ends the session like END does.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)
	sock := &socket{conn: conn}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	tracker := budget.NewTracker(nil)
	client, err := s.opts.NewClient(ctx, tracker)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create client", "error", err)
		_ = sock.send(Frame{Type: FrameError, Error: "failed to create client"})
		sock.close()
		return
	}

	// The human therapist reads lines from a pipe fed by the socket.
	pr, pw := io.Pipe()
	defer pr.Close()
	go s.pumpInbound(ctx, sock, pw)
	therapist := therapists.NewUser(agent.NewConsole(pr, nil, ""))

	sess, err := session.New(s.opts.Session, client, therapist, session.Options{
		Storage: s.opts.Storage,
		Tracker: tracker,
		Metrics: s.opts.Metrics,
		Logger:  s.logger,
		OnTurn: func(_ context.Context, ev session.Event) {
			if err := sock.send(turnFrame(ev)); err != nil {
				s.logger.DebugContext(ctx, "failed to send turn", "session_id", ev.SessionID, "error", err)
			}
		},
	})
	if err != nil {
		_ = sock.send(Frame{Type: FrameError, Error: err.Error()})
		sock.close()
		return
	}

	cfg := s.opts.Session.WithDefaults()
	_ = sock.send(Frame{
		Type:      FrameSession,
		SessionID: sess.ID(),
		MaxTurns:  cfg.MaxTurns,
		Speaker:   client.Name(),
		Metadata:  client.Profile(),
	})

	transcript, runErr := sess.Run(ctx)
	end := Frame{Type: FrameEnd, SessionID: sess.ID()}
	if transcript != nil {
		end.Turn = transcript.NumTurns
		end.EndReason = transcript.EndReason
	}
	if runErr != nil {
		end.Error = runErr.Error()
	}
	_ = sock.send(end)
	sock.close()
}

func turnFrame(ev session.Event) Frame {
	return Frame{
		Type:      FrameTurn,
		SessionID: ev.SessionID,
		Turn:      ev.Turn,
		MaxTurns:  ev.MaxTurns,
		Speaker:   ev.Speaker,
		Role:      ev.Message.Role,
		Content:   ev.Message.Content,
		Metadata:  ev.Message.Metadata,
	}
}

// pumpInbound forwards therapist turns from the socket into pw, one line
// each. Lines the guard rejects are answered with an error frame and
// dropped. When the peer goes away it sends END so the session ends and is
// saved.
func (s *Server) pumpInbound(ctx context.Context, sock *socket, pw *io.PipeWriter) {
	defer pw.Close()
	for {
		kind, data, err := sock.conn.ReadMessage()
		if err != nil {
			_, _ = io.WriteString(pw, "END\n")
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		line := inboundText(data)
		if line == "" {
			continue
		}
		if s.opts.Guard != nil {
			if err := s.opts.Guard.Check(line); err != nil {
				s.logger.WarnContext(ctx, "rejected therapist input", "error", err)
				_ = sock.send(Frame{Type: FrameError, Error: err.Error()})
				continue
			}
		}
		if _, err := io.WriteString(pw, line+"\n"); err != nil {
			return
		}
	}
}

func inboundText(data []byte) string {
	text := string(data)
	var msg struct {
		Content string `json:"content"`
	}
	if strings.HasPrefix(strings.TrimSpace(text), "{") && json.Unmarshal(data, &msg) == nil {
		text = msg.Content
	}
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	return strings.TrimSpace(text)
}
