package domain

import "encoding/json"

// Client to server message types.
const (
	MsgCreateRoom        = "create_room"
	MsgJoinRoom          = "join_room"
	MsgResumeSession     = "resume_session"
	MsgStartGame         = "start_game"
	MsgSubmitAnswer      = "submit_answer"
	MsgNextQuestion      = "next_question"
	MsgRevealLeaderboard = "reveal_leaderboard"
	MsgLeaveRoom         = "leave_room"
)

// Server to client event types.
const (
	EventRoomCreated            = "room_created"
	EventRoomJoined             = "room_joined"
	EventJoinRejected           = "join_rejected"
	EventResumeSucceeded        = "resume_succeeded"
	EventResumeRejected         = "resume_rejected"
	EventRoomSnapshot           = "room_snapshot"
	EventGameStarted            = "game_started"
	EventQuestionActivated      = "question_activated"
	EventAnswerAccepted         = "answer_accepted"
	EventAnswerProgress         = "answer_progress"
	EventAllAnswered            = "all_answered"
	EventLeaderboard            = "leaderboard"
	EventGameFinished           = "game_finished"
	EventRoomClosed             = "room_closed"
	EventParticipantGracePeriod = "participant_grace_period"
	EventParticipantRemoved     = "participant_removed"
	EventError                  = "error"
)

// Reasons carried by room_closed and all_answered.
const (
	CloseHostLeft      = "host_left"
	CloseHostTimeout   = "host_timeout"
	CloseGameComplete  = "game_complete"
	CloseInternalError = "internal_error"
	CloseShutdown      = "shutdown"

	RevealAllAnswered = "all_answered"
	RevealTimeout     = "timeout"
)

// Event is one server to client message.
type Event struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Message is one client to server message. Payload is decoded according to Type.
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type CreateRoomRequest struct {
	QuizID   string   `json:"quizId"`
	HostInfo HostInfo `json:"hostInfo"`
}

type JoinRoomRequest struct {
	RoomCode   string     `json:"roomCode"`
	PlayerInfo PlayerInfo `json:"playerInfo"`
}

// RoomRequest is the payload of host commands and leave_room.
type RoomRequest struct {
	RoomCode string `json:"roomCode"`
}

type SubmitAnswerRequest struct {
	RoomCode      string `json:"roomCode"`
	QuestionIndex int    `json:"questionIndex"`
	Choice        int    `json:"choice"`
}

type RoomCreatedPayload struct {
	RoomCode      string       `json:"roomCode"`
	ParticipantID string       `json:"participantId"`
	Room          RoomSnapshot `json:"room"`
}

type RoomJoinedPayload struct {
	PlayerID        string           `json:"playerId"`
	Room            RoomSnapshot     `json:"room"`
	CurrentQuestion *QuestionPayload `json:"currentQuestion,omitempty"`
}

type ResumeSucceededPayload struct {
	ParticipantID string       `json:"participantId"`
	IsHost        bool         `json:"isHost"`
	Room          RoomSnapshot `json:"room"`
	CurrentState  ResumeState  `json:"currentState"`
}

type RevealPayload struct {
	QuestionIndex      int                `json:"questionIndex"`
	CorrectOptionIndex int                `json:"correctOptionIndex"`
	Reason             string             `json:"reason"`
	Leaderboard        []LeaderboardEntry `json:"leaderboard"`
}

type RankedPayload struct {
	Ranked []LeaderboardEntry `json:"ranked"`
}

type RoomClosedPayload struct {
	Reason string `json:"reason"`
}

type ParticipantPayload struct {
	ParticipantID string `json:"participantId"`
}

// ErrorPayload is used by error, join_rejected and resume_rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// NewErrorPayload builds the wire form of err.
func NewErrorPayload(err error) ErrorPayload {
	code := ErrorCode(err)
	return ErrorPayload{Code: code, Message: err.Error(), Reason: code}
}
