package client

import (
	"context"
	"errors"
	"sync"

	"quiz-rooms/internal/domain"
)

// Transport is the subset of Conn a Session drives.
type Transport interface {
	CreateRoom(ctx context.Context, quizID string, host domain.HostInfo) (domain.RoomCreatedPayload, error)
	JoinRoom(ctx context.Context, code string, player domain.PlayerInfo) (domain.RoomJoinedPayload, error)
	Resume(ctx context.Context, req domain.ResumeRequest) (domain.ResumeSucceededPayload, error)
	LeaveRoom(code string) error
}

// View is the client's local picture of its room. It is always replaced from server state.
type View struct {
	Room          domain.RoomSnapshot
	ParticipantID string
	DisplayName   string
	IsHost        bool
	Question      *domain.QuestionPayload
	Answered      bool
	Score         int
	Ranked        []domain.LeaderboardEntry
	Closed        string
}

// Session keeps one membership alive across reloads using the Cache.
type Session struct {
	transport Transport
	cache     *Cache

	mu   sync.Mutex
	view View
}

func NewSession(transport Transport, cache *Cache) *Session {
	return &Session{transport: transport, cache: cache}
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) Create(ctx context.Context, quizID string, host domain.HostInfo) (domain.RoomCreatedPayload, error) {
	created, err := s.transport.CreateRoom(ctx, quizID, host)
	if err != nil {
		return created, err
	}
	s.mu.Lock()
	s.view = View{Room: created.Room, ParticipantID: created.ParticipantID, DisplayName: created.Room.Host.DisplayName, IsHost: true}
	s.mu.Unlock()
	return created, s.persist()
}

func (s *Session) Join(ctx context.Context, code string, player domain.PlayerInfo) (domain.RoomJoinedPayload, error) {
	joined, err := s.transport.JoinRoom(ctx, code, player)
	if err != nil {
		return joined, err
	}
	s.mu.Lock()
	s.view = View{Room: joined.Room, ParticipantID: joined.PlayerID, DisplayName: player.DisplayName, Question: joined.CurrentQuestion}
	for _, p := range joined.Room.Players {
		if p.ID == joined.PlayerID {
			s.view.DisplayName = p.DisplayName
		}
	}
	s.mu.Unlock()
	return joined, s.persist()
}

// Resume reattaches to code using the cached record. The local attempt guard runs first;
// once it trips, no request is sent and the record is gone.
func (s *Session) Resume(ctx context.Context, code string) (domain.ResumeSucceededPayload, error) {
	code = domain.NormalizeRoomCode(code)
	rec, err := s.cache.BeginResume(code)
	if err != nil {
		return domain.ResumeSucceededPayload{}, err
	}
	resumed, err := s.transport.Resume(ctx, domain.ResumeRequest{
		RoomCode:      rec.RoomCode,
		ParticipantID: rec.ParticipantID,
		DisplayName:   rec.DisplayName,
		IsHost:        rec.IsHost,
	})
	if err != nil {
		return resumed, err
	}

	// wholesale replacement: nothing reconstructed locally survives
	s.mu.Lock()
	s.view = View{
		Room:          resumed.Room,
		ParticipantID: resumed.ParticipantID,
		DisplayName:   rec.DisplayName,
		IsHost:        resumed.IsHost,
		Question:      resumed.CurrentState.Question,
		Answered:      resumed.CurrentState.Answered,
		Score:         resumed.CurrentState.Score,
	}
	s.mu.Unlock()
	return resumed, s.persist()
}

// Leave ends the membership voluntarily and forgets the session.
func (s *Session) Leave() error {
	s.mu.Lock()
	code := s.view.Room.Code
	s.view = View{}
	s.mu.Unlock()
	if code == "" {
		return domain.ErrNoSession
	}
	err := s.transport.LeaveRoom(code)
	if cerr := s.cache.Clear(code); err == nil {
		err = cerr
	}
	return err
}

// Apply folds a server event into the view and keeps the cache fresh.
func (s *Session) Apply(evt Event) error {
	s.mu.Lock()
	code := s.view.Room.Code
	terminal := false
	switch evt.Type {
	case domain.EventRoomSnapshot:
		var snap domain.RoomSnapshot
		if err := evt.Decode(&snap); err != nil {
			s.mu.Unlock()
			return err
		}
		// snapshots may arrive reordered; older versions are ignored
		if snap.Version >= s.view.Room.Version {
			s.view.Room = snap
			if snap.Status != domain.StatusInQuestion {
				s.view.Question = nil
			}
			for _, p := range snap.Players {
				if p.ID == s.view.ParticipantID {
					s.view.Score = p.Score
				}
			}
		}
	case domain.EventGameStarted, domain.EventQuestionActivated:
		var q domain.QuestionPayload
		if err := evt.Decode(&q); err != nil {
			s.mu.Unlock()
			return err
		}
		s.view.Question = &q
		s.view.Answered = false
	case domain.EventAnswerAccepted:
		var res domain.AnswerResult
		if err := evt.Decode(&res); err != nil {
			s.mu.Unlock()
			return err
		}
		s.view.Answered = true
		s.view.Score = res.Score
	case domain.EventAllAnswered:
		var rev domain.RevealPayload
		if err := evt.Decode(&rev); err == nil {
			s.view.Ranked = rev.Leaderboard
		}
		s.view.Question = nil
	case domain.EventLeaderboard:
		var ranked domain.RankedPayload
		if err := evt.Decode(&ranked); err == nil {
			s.view.Ranked = ranked.Ranked
		}
	case domain.EventGameFinished:
		var ranked domain.RankedPayload
		if err := evt.Decode(&ranked); err == nil {
			s.view.Ranked = ranked.Ranked
		}
		s.view.Room.Status = domain.StatusFinished
		terminal = true
	case domain.EventRoomClosed:
		var closed domain.RoomClosedPayload
		_ = evt.Decode(&closed)
		s.view.Closed = closed.Reason
		s.view.Room.Status = domain.StatusClosed
		terminal = true
	default:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if terminal {
		if code == "" {
			return nil
		}
		return s.cache.Clear(code)
	}
	return s.persist()
}

func (s *Session) persist() error {
	s.mu.Lock()
	v := s.view
	s.mu.Unlock()
	// finished or closed rooms are never resumed, so their records stay cleared
	if v.Room.Code == "" || v.Room.Status == domain.StatusFinished || v.Room.Status == domain.StatusClosed {
		return nil
	}
	index := v.Room.CurrentQuestionIndex
	if v.Question != nil {
		index = v.Question.QuestionIndex
	}
	err := s.cache.Save(Record{
		RoomCode:          v.Room.Code,
		ParticipantID:     v.ParticipantID,
		DisplayName:       v.DisplayName,
		IsHost:            v.IsHost,
		LastScore:         v.Score,
		LastQuestionIndex: index,
	})
	if errors.Is(err, domain.ErrNoSession) {
		return nil
	}
	return err
}
