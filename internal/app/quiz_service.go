package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"quiz-rooms/internal/domain"
)

// RoomRegistry maps live room codes to rooms (in-memory, Redis-backed reservations, etc).
type RoomRegistry interface {
	// Reserve binds code to room if the code is free. It reports false on collision.
	Reserve(ctx context.Context, code string, room *Room) (bool, error)
	Get(code string) (*Room, bool)
	Remove(code string)
	All() []*Room
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// HostIdentifier resolves a host token to an account.
type HostIdentifier interface {
	IdentifyHost(ctx context.Context, token string) (domain.Account, error)
}

// Listener receives the events addressed to one participant connection.
type Listener interface {
	ID() string
	Send(evt domain.Event)
	// Release tells the connection it no longer belongs to the room (closed or superseded).
	Release(roomCode string)
}

// Caller identifies who issued a create/join/resume and how to correlate the reply.
type Caller struct {
	Listener  Listener
	RequestID string
}

// Settings are the per-room timing and capacity knobs.
type Settings struct {
	QuestionTime time.Duration
	PlayerGrace  time.Duration
	HostGrace    time.Duration
	MaxPlayers   int
	CodeAttempts int
}

func DefaultSettings() Settings {
	return Settings{
		QuestionTime: 20 * time.Second,
		PlayerGrace:  30 * time.Second,
		HostGrace:    60 * time.Second,
		MaxPlayers:   50,
		CodeAttempts: 32,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.QuestionTime <= 0 {
		s.QuestionTime = d.QuestionTime
	}
	if s.PlayerGrace <= 0 {
		s.PlayerGrace = d.PlayerGrace
	}
	if s.HostGrace <= 0 {
		s.HostGrace = d.HostGrace
	}
	if s.MaxPlayers <= 0 {
		s.MaxPlayers = d.MaxPlayers
	}
	if s.CodeAttempts <= 0 {
		s.CodeAttempts = d.CodeAttempts
	}
	return s
}

// Option customises a QuizService.
type Option func(*QuizService)

func WithClock(c Clock) Option { return func(s *QuizService) { s.clock = c } }

func WithSettings(st Settings) Option { return func(s *QuizService) { s.settings = st.withDefaults() } }

func WithLogger(l *zap.Logger) Option { return func(s *QuizService) { s.logger = l } }

// WithHostIdentifier makes a valid host token mandatory for room creation.
func WithHostIdentifier(h HostIdentifier) Option { return func(s *QuizService) { s.hosts = h } }

func WithIDGenerator(f func() string) Option { return func(s *QuizService) { s.newID = f } }

// WithRand seeds room code generation, mostly for tests.
func WithRand(r *rand.Rand) Option { return func(s *QuizService) { s.rnd = r } }

// QuizService is the Room Coordinator: it owns room creation and routes every
// room-scoped operation into that room's serialized loop.
type QuizService struct {
	rooms    RoomRegistry
	quizzes  QuizRepository
	hosts    HostIdentifier
	settings Settings
	clock    Clock
	logger   *zap.Logger
	newID    func() string

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizService(rooms RoomRegistry, quizzes QuizRepository, opts ...Option) *QuizService {
	s := &QuizService{
		rooms:    rooms,
		quizzes:  quizzes,
		settings: DefaultSettings(),
		clock:    RealClock(),
		logger:   zap.NewNop(),
		newID:    uuid.NewString,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom loads the quiz, allocates a unique code and starts the room in LOBBY.
// room_created is delivered to the caller before any other event of the room.
func (s *QuizService) CreateRoom(ctx context.Context, quizID string, info domain.HostInfo, caller Caller) (domain.RoomCreatedPayload, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.RoomCreatedPayload{}, err
	}
	if err := quiz.Validate(); err != nil {
		return domain.RoomCreatedPayload{}, fmt.Errorf("quiz %s: %w", quizID, err)
	}

	var accountID string
	if s.hosts != nil {
		account, err := s.hosts.IdentifyHost(ctx, info.Token)
		if err != nil {
			return domain.RoomCreatedPayload{}, err
		}
		accountID = account.ID
		if strings.TrimSpace(info.DisplayName) == "" {
			info.DisplayName = account.DisplayName
		}
	}
	name, err := domain.ParseDisplayName(info.DisplayName)
	if err != nil {
		return domain.RoomCreatedPayload{}, err
	}

	host := &member{
		Participant: domain.Participant{
			ID:          s.newID(),
			DisplayName: name,
			AvatarToken: info.AvatarToken,
			AccountID:   accountID,
			IsHost:      true,
			State:       domain.StateConnected,
			JoinedAt:    s.clock.Now(),
		},
		listener: caller.Listener,
	}
	room := newRoom(quiz, host, s.settings, s.clock, s.logger, s.release)
	if err := s.allocate(ctx, room); err != nil {
		return domain.RoomCreatedPayload{}, err
	}

	room.version = 1
	payload := domain.RoomCreatedPayload{
		RoomCode:      room.code,
		ParticipantID: host.ID,
		Room:          room.snapshot(),
	}
	if caller.Listener != nil {
		caller.Listener.Send(domain.Event{Type: domain.EventRoomCreated, RequestID: caller.RequestID, Payload: payload})
	}
	room.start()

	s.logger.Info("room created",
		zap.String("room", room.code),
		zap.String("quiz_id", quiz.ID),
		zap.String("host_id", host.ID),
	)
	return payload, nil
}

func (s *QuizService) allocate(ctx context.Context, room *Room) error {
	for i := 0; i < s.settings.CodeAttempts; i++ {
		s.rndMu.Lock()
		code := domain.GenerateRoomCode(s.rnd)
		s.rndMu.Unlock()

		room.code = code
		ok, err := s.rooms.Reserve(ctx, code, room)
		if err != nil {
			return fmt.Errorf("reserve room code: %w", err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("no free room code after %d attempts: %w", s.settings.CodeAttempts, domain.ErrInternal)
}

func (s *QuizService) release(r *Room) {
	s.rooms.Remove(r.code)
}

// JoinRoom adds a new player. On success room_joined has already been sent to the caller.
func (s *QuizService) JoinRoom(ctx context.Context, code string, info domain.PlayerInfo, caller Caller) (domain.RoomJoinedPayload, error) {
	code, err := domain.ParseRoomCode(code)
	if err != nil {
		return domain.RoomJoinedPayload{}, err
	}
	name, err := domain.ParseDisplayName(info.DisplayName)
	if err != nil {
		return domain.RoomJoinedPayload{}, err
	}
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.RoomJoinedPayload{}, domain.ErrRoomNotFound
	}

	player := &member{Participant: domain.Participant{
		ID:          s.newID(),
		DisplayName: name,
		AvatarToken: info.AvatarToken,
	}}
	q := newRequest()
	payload, err := ask[domain.RoomJoinedPayload](ctx, room, q, joinCmd{request: q, player: player, caller: caller})
	if errors.Is(err, errRoomGone) {
		return payload, domain.ErrRoomNotFound
	}
	return payload, err
}

// Resume reattaches a participant identified by its stable id to a new connection.
func (s *QuizService) Resume(ctx context.Context, req domain.ResumeRequest, caller Caller) (domain.ResumeSucceededPayload, error) {
	code, err := domain.ParseRoomCode(req.RoomCode)
	if err != nil {
		return domain.ResumeSucceededPayload{}, err
	}
	req.RoomCode = code
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.ResumeSucceededPayload{}, domain.ErrRoomNotFound
	}
	q := newRequest()
	payload, err := ask[domain.ResumeSucceededPayload](ctx, room, q, resumeCmd{request: q, req: req, caller: caller})
	if errors.Is(err, errRoomGone) {
		return payload, domain.ErrRoomNotFound
	}
	return payload, err
}

func (s *QuizService) LeaveRoom(ctx context.Context, code, participantID string) error {
	q := newRequest()
	_, err := s.send(ctx, code, q, leaveCmd{request: q, participantID: participantID})
	return err
}

func (s *QuizService) StartGame(ctx context.Context, code, participantID string) error {
	q := newRequest()
	_, err := s.send(ctx, code, q, startCmd{request: q, participantID: participantID})
	return err
}

// SubmitAnswer records a player's choice for questionIndex. The result is also sent privately
// to the player's connection as answer_accepted.
func (s *QuizService) SubmitAnswer(ctx context.Context, code, participantID string, questionIndex, choice int) (domain.AnswerResult, error) {
	room, err := s.room(code)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	q := newRequest()
	res, err := ask[domain.AnswerResult](ctx, room, q, submitCmd{request: q, participantID: participantID, index: questionIndex, choice: choice})
	return res, roomErr(err)
}

func (s *QuizService) NextQuestion(ctx context.Context, code, participantID string) error {
	q := newRequest()
	_, err := s.send(ctx, code, q, nextCmd{request: q, participantID: participantID})
	return err
}

func (s *QuizService) RevealLeaderboard(ctx context.Context, code, participantID string) ([]domain.LeaderboardEntry, error) {
	room, err := s.room(code)
	if err != nil {
		return nil, err
	}
	q := newRequest()
	ranked, err := ask[[]domain.LeaderboardEntry](ctx, room, q, revealLeaderboardCmd{request: q, participantID: participantID})
	return ranked, roomErr(err)
}

// Disconnect routes a dropped connection through the grace period. It never blocks on a closed room.
func (s *QuizService) Disconnect(code, participantID, connID string) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return
	}
	room.post(disconnectCmd{participantID: participantID, connID: connID})
}

// Lookup reports whether a code resolves to a live room without joining it.
func (s *QuizService) Lookup(ctx context.Context, code string) (domain.RoomSummary, error) {
	room, err := s.room(code)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	q := newRequest()
	sum, err := ask[domain.RoomSummary](ctx, room, q, summaryCmd{q})
	if errors.Is(err, errRoomGone) {
		return sum, domain.ErrRoomNotFound
	}
	return sum, err
}

func (s *QuizService) Snapshot(ctx context.Context, code string) (domain.RoomSnapshot, error) {
	room, err := s.room(code)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	q := newRequest()
	snap, err := ask[domain.RoomSnapshot](ctx, room, q, snapshotCmd{q})
	return snap, roomErr(err)
}

func (s *QuizService) Leaderboard(ctx context.Context, code string) ([]domain.LeaderboardEntry, error) {
	room, err := s.room(code)
	if err != nil {
		return nil, err
	}
	q := newRequest()
	ranked, err := ask[[]domain.LeaderboardEntry](ctx, room, q, leaderboardCmd{q})
	return ranked, roomErr(err)
}

// Shutdown closes every live room and waits for their loops to exit or ctx to expire.
func (s *QuizService) Shutdown(ctx context.Context) error {
	rooms := s.rooms.All()
	for _, room := range rooms {
		q := newRequest()
		if _, err := room.call(ctx, shutdownCmd{request: q, reason: domain.CloseShutdown}, q); err != nil && !errors.Is(err, errRoomGone) {
			return err
		}
	}
	for _, room := range rooms {
		select {
		case <-room.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *QuizService) room(code string) (*Room, error) {
	code, err := domain.ParseRoomCode(code)
	if err != nil {
		return nil, err
	}
	room, ok := s.rooms.Get(code)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (s *QuizService) send(ctx context.Context, code string, q request, cmd command) (any, error) {
	room, err := s.room(code)
	if err != nil {
		return nil, err
	}
	v, err := room.call(ctx, cmd, q)
	return v, roomErr(err)
}

func roomErr(err error) error {
	if errors.Is(err, errRoomGone) {
		return domain.ErrRoomClosed
	}
	return err
}
