package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room code does not resolve to a live room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomClosed is returned when acting on a room that has reached CLOSED or no longer admits joins.
	ErrRoomClosed = errors.New("room closed")
	// ErrInvalidRoomCode indicates a code that is not 6 alphanumeric characters.
	ErrInvalidRoomCode = errors.New("invalid room code")
	// ErrInvalidName indicates a display name failing the length or content rules.
	ErrInvalidName = errors.New("invalid display name")
	// ErrRoomFull is returned when a room reached its player capacity.
	ErrRoomFull = errors.New("room full")
	// ErrParticipantNotFound is returned when an id is not (or no longer) a member of the room.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrNotHost is returned when a player issues a host-only command.
	ErrNotHost = errors.New("only the host can do that")
	// ErrNotPlayer is returned when the host tries to act as a player.
	ErrNotPlayer = errors.New("only players can do that")
	// ErrNoPlayers is returned when starting a game without any players.
	ErrNoPlayers = errors.New("at least one player is required")
	// ErrInvalidTransition is returned when a command does not apply to the current game state.
	ErrInvalidTransition = errors.New("command not allowed in current state")
	// ErrDuplicateSubmission is returned for a second answer to the same question.
	ErrDuplicateSubmission = errors.New("answer already submitted")
	// ErrStaleQuestion is returned for an answer to a question that is not active.
	ErrStaleQuestion = errors.New("question is not active")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizEmpty indicates quiz content that cannot be played.
	ErrQuizEmpty = errors.New("quiz has no playable questions")
	// ErrOptionNotFound indicates a submitted option index is out of range.
	ErrOptionNotFound = errors.New("option not found")
	// ErrUnauthorized is returned when a host token is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAccountNotFound indicates the account store has no such account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTimeout is observed by clients when create/join/resume exceed their deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrReconnectLimitExceeded means the client gave up resuming this room.
	ErrReconnectLimitExceeded = errors.New("reconnect limit exceeded")
	// ErrNoSession is returned when there is no cached session to resume.
	ErrNoSession = errors.New("no session to resume")
	// ErrAlreadyInRoom is returned when a connection already holds a room membership.
	ErrAlreadyInRoom = errors.New("connection already in a room")
	// ErrRateLimited is returned when a connection sends too many messages.
	ErrRateLimited = errors.New("rate limited")
	// ErrBadRequest is returned for malformed or unknown client messages.
	ErrBadRequest = errors.New("bad request")
	// ErrInternal signals a room-level fault.
	ErrInternal = errors.New("internal error")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrRoomNotFound, "room_not_found"},
	{ErrRoomClosed, "room_closed"},
	{ErrInvalidRoomCode, "invalid_room_code"},
	{ErrInvalidName, "invalid_name"},
	{ErrRoomFull, "room_full"},
	{ErrParticipantNotFound, "participant_not_found"},
	{ErrNotHost, "not_host"},
	{ErrNotPlayer, "not_player"},
	{ErrNoPlayers, "no_players"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrDuplicateSubmission, "duplicate_submission"},
	{ErrStaleQuestion, "stale_question"},
	{ErrQuizNotFound, "quiz_not_found"},
	{ErrQuizEmpty, "quiz_empty"},
	{ErrOptionNotFound, "option_not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrTimeout, "timeout"},
	{ErrReconnectLimitExceeded, "reconnect_limit_exceeded"},
	{ErrNoSession, "no_session"},
	{ErrAlreadyInRoom, "already_in_room"},
	{ErrRateLimited, "rate_limited"},
	{ErrBadRequest, "bad_request"},
	{ErrInternal, "internal_error"},
}

// ErrorCode maps an error to its wire code. Unknown errors map to internal_error.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal_error"
}

// ErrorFromCode is the inverse of ErrorCode.
func ErrorFromCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return ErrInternal
}

// Recoverable reports whether a caller may retry or continue after err.
func Recoverable(err error) bool {
	return !errors.Is(err, ErrReconnectLimitExceeded)
}
