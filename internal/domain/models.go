package domain

import "time"

// RoomStatus is the phase of a room's game state machine.
type RoomStatus string

const (
	StatusLobby      RoomStatus = "LOBBY"
	StatusInQuestion RoomStatus = "IN_QUESTION"
	StatusReveal     RoomStatus = "REVEAL"
	StatusFinished   RoomStatus = "FINISHED"
	StatusClosed     RoomStatus = "CLOSED"
)

// ConnectionState tracks a participant's link to the room.
type ConnectionState string

const (
	StateConnected   ConnectionState = "CONNECTED"
	StateGracePeriod ConnectionState = "GRACE_PERIOD"
	StateRemoved     ConnectionState = "REMOVED"
)

// TimeoutChoice is submitted in place of an option index when a player ran out of time.
const TimeoutChoice = -1

// Question is a single choice-based question. Quiz content is owned elsewhere and read-only here.
type Question struct {
	ID                 string   `json:"id"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correctOptionIndex"`
	TimeLimitSeconds   int      `json:"timeLimitSeconds"`
	Points             int      `json:"points"` // defaults to 1 if zero
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Validate reports whether the quiz can be played.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return ErrQuizEmpty
	}
	for _, question := range q.Questions {
		if len(question.Options) == 0 {
			return ErrQuizEmpty
		}
		if question.CorrectOptionIndex < 0 || question.CorrectOptionIndex >= len(question.Options) {
			return ErrOptionNotFound
		}
	}
	return nil
}

// PointsValue returns the points awarded for a correct answer.
func (q Question) PointsValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// TimeLimit returns the question's countdown, or fallback when the content leaves it unset.
func (q Question) TimeLimit(fallback time.Duration) time.Duration {
	if q.TimeLimitSeconds <= 0 {
		return fallback
	}
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// PublicQuestion is the question as broadcast to participants; it never carries the answer.
type PublicQuestion struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	Options          []string `json:"options"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
	Points           int      `json:"points"`
}

// Public strips the correct option from the question.
func (q Question) Public() PublicQuestion {
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return PublicQuestion{
		ID:               q.ID,
		Text:             q.Text,
		Options:          options,
		TimeLimitSeconds: q.TimeLimitSeconds,
		Points:           q.PointsValue(),
	}
}

// QuestionPayload accompanies game_started and question_activated.
type QuestionPayload struct {
	Question        PublicQuestion `json:"question"`
	QuestionIndex   int            `json:"questionIndex"`
	TotalQuestions  int            `json:"totalQuestions"`
	TimeRemainingMs int64          `json:"timeRemainingMs"`
}

// HostInfo describes the participant creating a room.
type HostInfo struct {
	DisplayName string `json:"displayName"`
	AvatarToken string `json:"avatarToken,omitempty"`
	Token       string `json:"token,omitempty"`
}

// PlayerInfo describes a participant joining a room.
type PlayerInfo struct {
	DisplayName string `json:"displayName"`
	AvatarToken string `json:"avatarToken,omitempty"`
}

// Account is a durable identity from the account store.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Participant is a member of a room: the host or a player.
type Participant struct {
	ID                  string
	DisplayName         string
	AvatarToken         string
	AccountID           string
	IsHost              bool
	Score               int
	CorrectAnswersCount int
	State               ConnectionState
	JoinOrder           int
	JoinedAt            time.Time
}

// View returns the broadcastable form of the participant.
func (p Participant) View() ParticipantView {
	return ParticipantView{
		ID:                  p.ID,
		DisplayName:         p.DisplayName,
		AvatarToken:         p.AvatarToken,
		IsHost:              p.IsHost,
		Score:               p.Score,
		CorrectAnswersCount: p.CorrectAnswersCount,
		ConnectionState:     p.State,
	}
}

// ParticipantView is a snapshot-friendly view of a participant.
type ParticipantView struct {
	ID                  string          `json:"id"`
	DisplayName         string          `json:"displayName"`
	AvatarToken         string          `json:"avatarToken,omitempty"`
	IsHost              bool            `json:"isHost"`
	Score               int             `json:"score"`
	CorrectAnswersCount int             `json:"correctAnswersCount"`
	ConnectionState     ConnectionState `json:"connectionState"`
}

// RoomSnapshot is the complete, self-consistent room state. Clients replace their view with it.
type RoomSnapshot struct {
	Code                 string            `json:"code"`
	QuizID               string            `json:"quizId"`
	Status               RoomStatus        `json:"status"`
	Host                 ParticipantView   `json:"host"`
	Players              []ParticipantView `json:"players"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	TotalQuestions       int               `json:"totalQuestions"`
	Paused               bool              `json:"paused"`
	TimeRemainingMs      int64             `json:"timeRemainingMs"`
	Version              uint64            `json:"version"`
	CreatedAt            time.Time         `json:"createdAt"`
}

// HasPlayer reports whether id appears among the snapshot's players.
func (s RoomSnapshot) HasPlayer(id string) bool {
	for _, p := range s.Players {
		if p.ID == id {
			return true
		}
	}
	return false
}

// RoomSummary is what the lookup endpoint exposes about a live room.
type RoomSummary struct {
	Code        string     `json:"code"`
	QuizID      string     `json:"quizId"`
	Status      RoomStatus `json:"status"`
	PlayerCount int        `json:"playerCount"`
}

// LeaderboardEntry is one ranked player.
type LeaderboardEntry struct {
	Rank                int    `json:"rank"`
	PlayerID            string `json:"playerId"`
	DisplayName         string `json:"displayName"`
	Score               int    `json:"score"`
	CorrectAnswersCount int    `json:"correctAnswersCount"`
}

// AnswerSubmission is an accepted answer for one (player, question) pair.
type AnswerSubmission struct {
	PlayerID      string
	QuestionIndex int
	Choice        int
	SubmittedAt   time.Time
}

// AnswerResult is the private outcome of a submission.
type AnswerResult struct {
	QuestionIndex      int  `json:"questionIndex"`
	IsCorrect          bool `json:"isCorrect"`
	CorrectOptionIndex int  `json:"correctOptionIndex"`
	Awarded            int  `json:"awarded"`
	Score              int  `json:"score"`
}

// AnswerProgress is the "N of M answered" counter sent to the host.
type AnswerProgress struct {
	QuestionIndex int `json:"questionIndex"`
	AnsweredCount int `json:"answeredCount"`
	TotalPlayers  int `json:"totalPlayers"`
}

// ResumeRequest is what a reconnecting client presents.
type ResumeRequest struct {
	RoomCode      string `json:"roomCode"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	IsHost        bool   `json:"isHost"`
}

// ResumeState is the resumed participant's authoritative position in the game.
type ResumeState struct {
	Status              RoomStatus       `json:"status"`
	QuestionIndex       int              `json:"questionIndex"`
	Question            *QuestionPayload `json:"question,omitempty"`
	Answered            bool             `json:"answered"`
	Score               int              `json:"score"`
	CorrectAnswersCount int              `json:"correctAnswersCount"`
}
