package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"quiz-rooms/internal/app"
	"quiz-rooms/internal/domain"
)

// WSOptions tune a websocket connection.
type WSOptions struct {
	RateLimit      rate.Limit
	RateBurst      int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	RequestTimeout time.Duration
	SendBuffer     int
	ReadLimit      int64
	AllowedOrigins []string
}

func DefaultWSOptions() WSOptions {
	return WSOptions{
		RateLimit:      rate.Limit(10),
		RateBurst:      20,
		PingInterval:   25 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		RequestTimeout: 10 * time.Second,
		SendBuffer:     16,
		ReadLimit:      64 * 1024,
	}
}

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
	opts     WSOptions
	logger   *zap.Logger
}

func NewWSHandler(service *app.QuizService, logger *zap.Logger, opts WSOptions) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultWSOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = d.SendBuffer
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = d.RequestTimeout
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = d.WriteWait
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = d.ReadLimit
	}
	return &WSHandler{
		service: service,
		opts:    opts,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

// connection is one websocket; it is the app.Listener for the participant bound to it.
type connection struct {
	id   string
	send chan domain.Event

	mu            sync.Mutex
	closed        bool
	roomCode      string
	participantID string
}

func newConnection(buffer int) *connection {
	return &connection{id: uuid.NewString(), send: make(chan domain.Event, buffer)}
}

func (c *connection) ID() string { return c.id }

// Send never blocks the room: when the buffer is full the oldest queued event is dropped.
func (c *connection) Send(evt domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- evt:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- evt:
		default:
		}
	}
}

func (c *connection) Release(roomCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomCode == roomCode {
		c.roomCode, c.participantID = "", ""
	}
}

func (c *connection) bind(roomCode, participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomCode, c.participantID = roomCode, participantID
}

func (c *connection) binding() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode, c.participantID
}

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeWS upgrades HTTP requests to websockets and wires them into the room use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	conn := newConnection(h.opts.SendBuffer)
	logger := h.logger.With(zap.String("conn_id", conn.id))
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, conn, logger)
	}()

	h.readPump(r.Context(), ws, conn, logger)

	// Abrupt or clean, a dropped socket always goes through the grace period.
	if code, pid := conn.binding(); code != "" {
		h.service.Disconnect(code, pid, conn.id)
	}
	conn.close()
	<-writerDone
}

func (h *WSHandler) readPump(ctx context.Context, ws *websocket.Conn, conn *connection, logger *zap.Logger) {
	ws.SetReadLimit(h.opts.ReadLimit)
	if h.opts.PongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		})
	}

	var limiter *rate.Limiter
	if h.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws read", zap.Error(err))
			}
			return
		}
		if h.opts.PongWait > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		}
		if limiter != nil && !limiter.Allow() {
			conn.Send(errorEvent("", domain.EventError, domain.ErrRateLimited))
			continue
		}
		// Malformed frames are answered, never fatal to the connection.
		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			conn.Send(errorEvent("", domain.EventError, domain.ErrBadRequest))
			logger.Debug("malformed message", zap.Error(err))
			continue
		}
		h.handle(ctx, conn, msg, logger)
	}
}

func (h *WSHandler) writePump(ws *websocket.Conn, conn *connection, logger *zap.Logger) {
	var ping <-chan time.Time
	if h.opts.PingInterval > 0 {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case evt, ok := <-conn.send:
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteJSON(evt); err != nil {
				logger.Debug("ws write", zap.Error(err))
				// unblock the reader so the participant goes through the grace period
				_ = ws.Close()
				return
			}
		case <-ping:
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

func (h *WSHandler) handle(parent context.Context, conn *connection, msg domain.Message, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(parent, h.opts.RequestTimeout)
	defer cancel()
	caller := app.Caller{Listener: conn, RequestID: msg.RequestID}

	switch msg.Type {
	case domain.MsgCreateRoom:
		var req domain.CreateRoomRequest
		if !decode(conn, msg, &req) {
			return
		}
		if code, _ := conn.binding(); code != "" {
			conn.Send(errorEvent(msg.RequestID, domain.EventError, domain.ErrAlreadyInRoom))
			return
		}
		created, err := h.service.CreateRoom(ctx, req.QuizID, req.HostInfo, caller)
		if err != nil {
			conn.Send(errorEvent(msg.RequestID, domain.EventError, err))
			return
		}
		conn.bind(created.RoomCode, created.ParticipantID)

	case domain.MsgJoinRoom:
		var req domain.JoinRoomRequest
		if !decode(conn, msg, &req) {
			return
		}
		if code, _ := conn.binding(); code != "" {
			conn.Send(errorEvent(msg.RequestID, domain.EventJoinRejected, domain.ErrAlreadyInRoom))
			return
		}
		joined, err := h.service.JoinRoom(ctx, req.RoomCode, req.PlayerInfo, caller)
		if err != nil {
			conn.Send(errorEvent(msg.RequestID, domain.EventJoinRejected, err))
			return
		}
		conn.bind(joined.Room.Code, joined.PlayerID)

	case domain.MsgResumeSession:
		var req domain.ResumeRequest
		if !decode(conn, msg, &req) {
			return
		}
		if code, pid := conn.binding(); code != "" && pid != req.ParticipantID {
			conn.Send(errorEvent(msg.RequestID, domain.EventResumeRejected, domain.ErrAlreadyInRoom))
			return
		}
		resumed, err := h.service.Resume(ctx, req, caller)
		if err != nil {
			conn.Send(errorEvent(msg.RequestID, domain.EventResumeRejected, err))
			return
		}
		conn.bind(resumed.Room.Code, resumed.ParticipantID)

	case domain.MsgStartGame, domain.MsgNextQuestion, domain.MsgRevealLeaderboard, domain.MsgLeaveRoom:
		var req domain.RoomRequest
		if !decode(conn, msg, &req) {
			return
		}
		code, pid, ok := h.bound(conn, msg, req.RoomCode)
		if !ok {
			return
		}
		var err error
		switch msg.Type {
		case domain.MsgStartGame:
			err = h.service.StartGame(ctx, code, pid)
		case domain.MsgNextQuestion:
			err = h.service.NextQuestion(ctx, code, pid)
		case domain.MsgRevealLeaderboard:
			_, err = h.service.RevealLeaderboard(ctx, code, pid)
		case domain.MsgLeaveRoom:
			conn.Release(code)
			err = h.service.LeaveRoom(ctx, code, pid)
		}
		if err != nil {
			conn.Send(errorEvent(msg.RequestID, domain.EventError, err))
		}

	case domain.MsgSubmitAnswer:
		var req domain.SubmitAnswerRequest
		if !decode(conn, msg, &req) {
			return
		}
		code, pid, ok := h.bound(conn, msg, req.RoomCode)
		if !ok {
			return
		}
		if _, err := h.service.SubmitAnswer(ctx, code, pid, req.QuestionIndex, req.Choice); err != nil {
			conn.Send(errorEvent(msg.RequestID, domain.EventError, err))
		}

	default:
		conn.Send(errorEvent(msg.RequestID, domain.EventError, domain.ErrBadRequest))
		logger.Debug("unsupported message type", zap.String("type", msg.Type))
	}
}

// bound returns the connection's membership, which must match the room named in the message.
func (h *WSHandler) bound(conn *connection, msg domain.Message, roomCode string) (string, string, bool) {
	code, pid := conn.binding()
	if code == "" {
		conn.Send(errorEvent(msg.RequestID, domain.EventError, domain.ErrParticipantNotFound))
		return "", "", false
	}
	if roomCode != "" && domain.NormalizeRoomCode(roomCode) != code {
		conn.Send(errorEvent(msg.RequestID, domain.EventError, domain.ErrParticipantNotFound))
		return "", "", false
	}
	return code, pid, true
}

func decode(conn *connection, msg domain.Message, v any) bool {
	if len(msg.Payload) == 0 {
		conn.Send(errorEvent(msg.RequestID, domain.EventError, domain.ErrBadRequest))
		return false
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		conn.Send(errorEvent(msg.RequestID, domain.EventError, domain.ErrBadRequest))
		return false
	}
	return true
}

func errorEvent(requestID, eventType string, err error) domain.Event {
	return domain.Event{Type: eventType, RequestID: requestID, Payload: domain.NewErrorPayload(err)}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
