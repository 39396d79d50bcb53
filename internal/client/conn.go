package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"quiz-rooms/internal/domain"
)

// DefaultTimeout bounds create, join and resume calls.
const DefaultTimeout = 10 * time.Second

var ErrClosed = errors.New("connection closed")

// Event is a server event with its payload still encoded.
type Event struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

// Err returns the error carried by error, join_rejected and resume_rejected events.
func (e Event) Err() error {
	switch e.Type {
	case domain.EventError, domain.EventJoinRejected, domain.EventResumeRejected:
		var p domain.ErrorPayload
		if err := e.Decode(&p); err != nil {
			return domain.ErrInternal
		}
		return domain.ErrorFromCode(p.Code)
	}
	return nil
}

// Conn is the Transport Client: a websocket with request correlation on top.
type Conn struct {
	ws      *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Event

	events chan Event
	done   chan struct{}
	err    error
}

type DialOption func(*Conn)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) DialOption { return func(c *Conn) { c.timeout = d } }

func Dial(ctx context.Context, url string, header http.Header, opts ...DialOption) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Conn{
		ws:      ws,
		timeout: DefaultTimeout,
		pending: make(map[string]chan Event),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c, nil
}

// Events delivers every event that is not a reply to a pending call. It is closed with the connection.
func (c *Conn) Events() <-chan Event { return c.events }

// Done is closed once the connection stopped reading.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection stopped.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		var evt Event
		if err := c.ws.ReadJSON(&evt); err != nil {
			c.err = err
			return
		}
		if evt.RequestID != "" {
			c.mu.Lock()
			reply, ok := c.pending[evt.RequestID]
			if ok {
				delete(c.pending, evt.RequestID)
			}
			c.mu.Unlock()
			if ok {
				reply <- evt
				continue
			}
		}
		c.deliver(evt)
	}
}

// deliver drops the oldest undelivered event when the consumer falls behind.
func (c *Conn) deliver(evt Event) {
	select {
	case c.events <- evt:
	default:
		select {
		case <-c.events:
		default:
		}
		select {
		case c.events <- evt:
		default:
		}
	}
}

func (c *Conn) write(msgType, requestID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(domain.Message{Type: msgType, RequestID: requestID, Payload: raw}); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// call sends a request and waits for the correlated reply or the fixed deadline.
func (c *Conn) call(ctx context.Context, msgType string, payload any, success string, out any) error {
	id := uuid.NewString()
	reply := make(chan Event, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(msgType, id, payload); err != nil {
		return err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case evt := <-reply:
		if err := evt.Err(); err != nil {
			return err
		}
		if evt.Type != success {
			return fmt.Errorf("unexpected reply %s: %w", evt.Type, domain.ErrInternal)
		}
		return evt.Decode(out)
	case <-timer.C:
		return domain.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conn) CreateRoom(ctx context.Context, quizID string, host domain.HostInfo) (domain.RoomCreatedPayload, error) {
	var out domain.RoomCreatedPayload
	err := c.call(ctx, domain.MsgCreateRoom, domain.CreateRoomRequest{QuizID: quizID, HostInfo: host}, domain.EventRoomCreated, &out)
	return out, err
}

func (c *Conn) JoinRoom(ctx context.Context, code string, player domain.PlayerInfo) (domain.RoomJoinedPayload, error) {
	var out domain.RoomJoinedPayload
	err := c.call(ctx, domain.MsgJoinRoom, domain.JoinRoomRequest{RoomCode: code, PlayerInfo: player}, domain.EventRoomJoined, &out)
	return out, err
}

func (c *Conn) Resume(ctx context.Context, req domain.ResumeRequest) (domain.ResumeSucceededPayload, error) {
	var out domain.ResumeSucceededPayload
	err := c.call(ctx, domain.MsgResumeSession, req, domain.EventResumeSucceeded, &out)
	return out, err
}

// The remaining operations are fire-and-forget; failures arrive on Events as error events.

func (c *Conn) StartGame(code string) error {
	return c.write(domain.MsgStartGame, uuid.NewString(), domain.RoomRequest{RoomCode: code})
}

func (c *Conn) SubmitAnswer(code string, questionIndex, choice int) error {
	return c.write(domain.MsgSubmitAnswer, uuid.NewString(), domain.SubmitAnswerRequest{RoomCode: code, QuestionIndex: questionIndex, Choice: choice})
}

func (c *Conn) NextQuestion(code string) error {
	return c.write(domain.MsgNextQuestion, uuid.NewString(), domain.RoomRequest{RoomCode: code})
}

func (c *Conn) RevealLeaderboard(code string) error {
	return c.write(domain.MsgRevealLeaderboard, uuid.NewString(), domain.RoomRequest{RoomCode: code})
}

func (c *Conn) LeaveRoom(code string) error {
	return c.write(domain.MsgLeaveRoom, uuid.NewString(), domain.RoomRequest{RoomCode: code})
}
