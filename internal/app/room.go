package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"quiz-rooms/internal/domain"
)

// errRoomGone is returned by call when the room's loop has already exited.
var errRoomGone = errors.New("room loop stopped")

const inboxSize = 256

type member struct {
	domain.Participant
	listener   Listener
	graceTimer Timer
	graceGen   uint64
}

// Room is one live game. Every field below the configuration block is owned by the run loop;
// other goroutines interact with a room only through its inbox.
type Room struct {
	code      string
	quiz      domain.Quiz
	createdAt time.Time
	settings  Settings
	clock     Clock
	logger    *zap.Logger
	onClose   func(*Room)

	status  domain.RoomStatus
	current int
	host    *member
	players []*member
	answers map[int]map[string]domain.AnswerSubmission
	version uint64
	joinSeq int

	questionTimer    Timer
	questionGen      uint64
	questionDeadline time.Time
	paused           bool
	remaining        time.Duration

	inbox chan command
	done  chan struct{}
}

type command interface {
	apply(r *Room)
}

type outcome struct {
	value any
	err   error
}

const (
	requestPending int32 = iota
	requestAccepted
	requestAbandoned
)

// request carries the reply channel of a command that expects an answer.
// Exactly one of the room loop (accept) and the waiting caller (abandon) claims it.
type request struct {
	out   chan outcome
	state *atomic.Int32
}

func newRequest() request {
	return request{out: make(chan outcome, 1), state: new(atomic.Int32)}
}

func (q request) accept() bool {
	return q.state.CompareAndSwap(requestPending, requestAccepted)
}

func (q request) abandon() bool {
	return q.state.CompareAndSwap(requestPending, requestAbandoned)
}

func (q request) respond(v any, err error) {
	select {
	case q.out <- outcome{value: v, err: err}:
	default:
	}
}

func (q request) fail(err error) {
	q.respond(nil, err)
}

type failer interface {
	fail(err error)
}

// acceptor is implemented by every command that embeds a request.
type acceptor interface {
	accept() bool
}

func newRoom(quiz domain.Quiz, host *member, settings Settings, clock Clock, logger *zap.Logger, onClose func(*Room)) *Room {
	return &Room{
		quiz:      quiz,
		createdAt: clock.Now(),
		settings:  settings,
		clock:     clock,
		logger:    logger,
		onClose:   onClose,
		status:    domain.StatusLobby,
		host:      host,
		players:   make([]*member, 0, 8),
		answers:   make(map[int]map[string]domain.AnswerSubmission),
		inbox:     make(chan command, inboxSize),
		done:      make(chan struct{}),
	}
}

// Code returns the room's code. It is fixed before the loop starts.
func (r *Room) Code() string {
	return r.code
}

// Done is closed once the room reached CLOSED and its loop exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) start() {
	go r.run()
}

func (r *Room) run() {
	defer close(r.done)
	for {
		cmd := <-r.inbox
		r.dispatch(cmd)
		if r.status == domain.StatusClosed {
			r.finalize()
			return
		}
	}
}

func (r *Room) dispatch(cmd command) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("room fault, closing room",
				zap.String("room", r.code),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			if f, ok := cmd.(failer); ok {
				f.fail(domain.ErrInternal)
			}
			if r.status != domain.StatusClosed {
				r.closeRoom(domain.CloseInternalError)
			}
		}
	}()
	// A caller that gave up before the loop reached its command must not see it applied.
	if a, ok := cmd.(acceptor); ok && !a.accept() {
		return
	}
	cmd.apply(r)
}

func (r *Room) finalize() {
	stopTimer(r.questionTimer)
	for _, m := range r.members() {
		stopTimer(m.graceTimer)
	}
	if r.onClose != nil {
		r.onClose(r)
	}
}

// call enqueues cmd and waits for its reply. When ctx ends first the command is either
// abandoned, and never applied, or already accepted by the loop, and its reply is awaited.
func (r *Room) call(ctx context.Context, cmd command, q request) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case r.inbox <- cmd:
	case <-r.done:
		return nil, errRoomGone
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-q.out:
		return res.value, res.err
	case <-r.done:
		return r.await(q)
	case <-ctx.Done():
		if q.abandon() {
			return nil, ctx.Err()
		}
		return r.await(q)
	}
}

// await waits for the reply of a command the loop has accepted or that was left behind
// when the loop exited.
func (r *Room) await(q request) (any, error) {
	select {
	case res := <-q.out:
		return res.value, res.err
	case <-r.done:
		// The reply of the command that closed the room is sent before done closes.
		select {
		case res := <-q.out:
			return res.value, res.err
		default:
			return nil, errRoomGone
		}
	}
}

func ask[T any](ctx context.Context, r *Room, q request, cmd command) (T, error) {
	var zero T
	v, err := r.call(ctx, cmd, q)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

// post enqueues cmd without waiting for a reply. Used by timers and transport callbacks.
func (r *Room) post(cmd command) {
	select {
	case r.inbox <- cmd:
	case <-r.done:
	}
}

func (r *Room) members() []*member {
	all := make([]*member, 0, len(r.players)+1)
	all = append(all, r.host)
	return append(all, r.players...)
}

func (r *Room) findMember(id string) *member {
	if r.host.ID == id {
		return r.host
	}
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) sendTo(m *member, evt domain.Event) {
	if m == nil || m.listener == nil || m.State != domain.StateConnected {
		return
	}
	m.listener.Send(evt)
}

func (r *Room) broadcast(evt domain.Event, exceptID string) {
	for _, m := range r.members() {
		if m.ID == exceptID {
			continue
		}
		r.sendTo(m, evt)
	}
}

// commit bumps the snapshot version and broadcasts the reconciled room to everyone but exceptID.
func (r *Room) commit(exceptID string) domain.RoomSnapshot {
	r.version++
	snap := r.snapshot()
	r.broadcast(domain.Event{Type: domain.EventRoomSnapshot, Payload: snap}, exceptID)
	return snap
}

func (r *Room) snapshot() domain.RoomSnapshot {
	players := make([]domain.ParticipantView, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p.View())
	}
	return domain.RoomSnapshot{
		Code:                 r.code,
		QuizID:               r.quiz.ID,
		Status:               r.status,
		Host:                 r.host.View(),
		Players:              players,
		CurrentQuestionIndex: r.current,
		TotalQuestions:       len(r.quiz.Questions),
		Paused:               r.paused,
		TimeRemainingMs:      r.timeRemaining().Milliseconds(),
		Version:              r.version,
		CreatedAt:            r.createdAt,
	}
}

func (r *Room) summary() domain.RoomSummary {
	return domain.RoomSummary{
		Code:        r.code,
		QuizID:      r.quiz.ID,
		Status:      r.status,
		PlayerCount: len(r.players),
	}
}

func (r *Room) timeRemaining() time.Duration {
	if r.status != domain.StatusInQuestion {
		return 0
	}
	if r.paused {
		return r.remaining
	}
	left := r.questionDeadline.Sub(r.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

type snapshotCmd struct{ request }

func (c snapshotCmd) apply(r *Room) { c.respond(r.snapshot(), nil) }

type summaryCmd struct{ request }

func (c summaryCmd) apply(r *Room) { c.respond(r.summary(), nil) }

type leaderboardCmd struct{ request }

func (c leaderboardCmd) apply(r *Room) { c.respond(rankPlayers(r.players), nil) }

type shutdownCmd struct {
	request
	reason string
}

func (c shutdownCmd) apply(r *Room) {
	r.closeRoom(c.reason)
	c.respond(nil, nil)
}
