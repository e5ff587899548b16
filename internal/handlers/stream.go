package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api/middleware"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/metrics"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 8 * 1024
)

// Stream kinds.
const (
	StreamConversations = "conversations"
	StreamThread        = "thread"
	StreamReactions     = "reactions"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Requests are signed, so the origin carries no authority.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamFrame is a server to client frame. Snapshot frames carry the kind of
// the stream as their type.
type StreamFrame struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// StreamCommand is a client to server frame: {"type":"send","content":...}
// on thread streams, {"type":"toggle","emoji":...} on reaction streams.
type StreamCommand struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
}

// liveView is a component following the change feed.
type liveView interface {
	Changed() <-chan struct{}
	Done() <-chan struct{}
	Close() error
}

type stream struct {
	kind     string
	view     liveView
	snapshot func() interface{}
	command  func(ctx context.Context, cmd StreamCommand) (*StreamFrame, error)
}

var errUnknownCommand = errors.New("unknown command")

// Stream upgrades to a websocket that pushes a full snapshot of a live view
// whenever it changes.
//
//	GET /stream?kind=conversations
//	GET /stream?kind=thread&id=<conversation id>
//	GET /stream?kind=reactions&id=<message id>
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfileFromContext(r.Context())
	if profile == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	st, err := h.openStream(ctx, r.URL.Query().Get("kind"), r.URL.Query().Get("id"), profile.ID)
	if err != nil {
		var bad badStreamRequest
		if errors.As(err, &bad) {
			h.Error(w, http.StatusBadRequest, bad.Error())
			return
		}
		h.ServiceError(w, r, err)
		return
	}
	defer st.view.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.StreamConnections.WithLabelValues(st.kind).Inc()
	defer metrics.StreamConnections.WithLabelValues(st.kind).Dec()

	log := h.logger.With().
		Str("stream", st.kind).
		Str("user_id", profile.ID.String()).
		Logger()
	log.Debug().Msg("stream opened")

	out := make(chan StreamFrame, 16)
	go readCommands(ctx, cancel, conn, st, out, log)

	if err := writeLoop(ctx, conn, st, out); err != nil {
		log.Debug().Err(err).Msg("stream write stopped")
	}
	log.Debug().Msg("stream closed")
}

type badStreamRequest string

func (e badStreamRequest) Error() string { return string(e) }

func (h *Handler) openStream(ctx context.Context, kind, rawID string, viewerID uuid.UUID) (*stream, error) {
	if kind == StreamConversations {
		list, err := h.svc.WatchConversations(ctx, viewerID)
		if err != nil {
			return nil, err
		}
		return &stream{
			kind:     kind,
			view:     list,
			snapshot: func() interface{} { return list.Snapshot() },
			command: func(context.Context, StreamCommand) (*StreamFrame, error) {
				return nil, errUnknownCommand
			},
		}, nil
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, badStreamRequest("invalid id format")
	}

	switch kind {
	case StreamThread:
		thread, err := h.svc.OpenThread(ctx, id, viewerID)
		if err != nil {
			return nil, err
		}
		return &stream{
			kind:     kind,
			view:     thread,
			snapshot: func() interface{} { return thread.Messages() },
			command: func(ctx context.Context, cmd StreamCommand) (*StreamFrame, error) {
				if cmd.Type != "send" {
					return nil, errUnknownCommand
				}
				msg, err := thread.Send(ctx, cmd.Content)
				if err != nil {
					return nil, err
				}
				return &StreamFrame{Type: "sent", Data: msg}, nil
			},
		}, nil
	case StreamReactions:
		watch, err := h.svc.WatchReactions(ctx, id, viewerID)
		if err != nil {
			return nil, err
		}
		return &stream{
			kind:     kind,
			view:     watch,
			snapshot: func() interface{} { return watch.Summaries() },
			command: func(ctx context.Context, cmd StreamCommand) (*StreamFrame, error) {
				if cmd.Type != "toggle" {
					return nil, errUnknownCommand
				}
				present, err := watch.Toggle(ctx, cmd.Emoji)
				if err != nil {
					return nil, err
				}
				return &StreamFrame{Type: "toggled", Data: map[string]interface{}{
					"emoji":   cmd.Emoji,
					"present": present,
				}}, nil
			},
		}, nil
	default:
		return nil, badStreamRequest("kind must be conversations, thread or reactions")
	}
}

// readCommands runs client commands until the connection fails, then
// cancels ctx.
func readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, st *stream, out chan<- StreamFrame, log zerolog.Logger) {
	defer cancel()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("stream read failed")
			}
			return
		}

		var reply *StreamFrame
		var cmd StreamCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			reply = &StreamFrame{Type: "error", Error: "invalid JSON frame"}
		} else if reply, err = st.command(ctx, cmd); err != nil {
			_, message := errorStatus(err)
			if errors.Is(err, errUnknownCommand) {
				message = err.Error()
			}
			reply = &StreamFrame{Type: "error", Error: message}
		}

		select {
		case out <- *reply:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop owns all writes to conn.
func writeLoop(ctx context.Context, conn *websocket.Conn, st *stream, out <-chan StreamFrame) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(f StreamFrame) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(f)
	}

	if err := write(StreamFrame{Type: st.kind, Data: st.snapshot()}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-st.view.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
		case <-st.view.Changed():
			if err := write(StreamFrame{Type: st.kind, Data: st.snapshot()}); err != nil {
				return err
			}
		case f := <-out:
			if err := write(f); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
