package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
	"quiz-rooms/internal/app"
	"quiz-rooms/internal/client"
	"quiz-rooms/internal/domain"
	"quiz-rooms/internal/infra/memory"
)

func newTestServer(t *testing.T, opts WSOptions) (*httptest.Server, *app.QuizService) {
	t.Helper()
	rooms := memory.NewRoomRegistry()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	service := app.NewQuizService(rooms, quizRepo)

	router := NewRouter(NewWSHandler(service, nil, opts), NewLookupHandler(service, nil), nil, nil)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = service.Shutdown(ctx)
		server.Close()
	})
	return server, service
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, server *httptest.Server) *client.Conn {
	t.Helper()
	conn, err := client.Dial(context.Background(), wsURL(server), nil, client.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, conn *client.Conn, eventType string) client.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-conn.Events():
			if !ok {
				t.Fatalf("connection closed while waiting for %s", eventType)
			}
			if evt.Type == eventType {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestWebSocketGameFlow(t *testing.T) {
	server, _ := newTestServer(t, DefaultWSOptions())
	ctx := context.Background()

	host := dial(t, server)
	created, err := host.CreateRoom(ctx, "quiz-1", domain.HostInfo{DisplayName: "Host"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	player := dial(t, server)
	joined, err := player.JoinRoom(ctx, strings.ToLower(created.RoomCode), domain.PlayerInfo{DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("join room: %v", err)
	}
	if joined.Room.Code != created.RoomCode || !joined.Room.HasPlayer(joined.PlayerID) {
		t.Fatalf("unexpected join payload: %+v", joined)
	}

	var snap domain.RoomSnapshot
	if err := waitFor(t, host, domain.EventRoomSnapshot).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snap.HasPlayer(joined.PlayerID) {
		t.Fatalf("host snapshot misses the new player: %+v", snap)
	}

	if err := host.StartGame(created.RoomCode); err != nil {
		t.Fatalf("start game: %v", err)
	}
	var question domain.QuestionPayload
	if err := waitFor(t, player, domain.EventGameStarted).Decode(&question); err != nil {
		t.Fatalf("decode question: %v", err)
	}
	if question.QuestionIndex != 0 || question.TotalQuestions != 1 {
		t.Fatalf("unexpected question payload: %+v", question)
	}
	var raw map[string]any
	if err := json.Unmarshal(waitFor(t, host, domain.EventGameStarted).Payload, &raw); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	if _, leaked := raw["question"].(map[string]any)["correctOptionIndex"]; leaked {
		t.Fatalf("question broadcast leaks the answer: %v", raw)
	}

	if err := player.SubmitAnswer(created.RoomCode, 0, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var result domain.AnswerResult
	if err := waitFor(t, player, domain.EventAnswerAccepted).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.IsCorrect || result.Score != 1 {
		t.Fatalf("expected correct answer worth 1, got %+v", result)
	}
	var progress domain.AnswerProgress
	if err := waitFor(t, host, domain.EventAnswerProgress).Decode(&progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.AnsweredCount != 1 || progress.TotalPlayers != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	waitFor(t, player, domain.EventAllAnswered)

	// a second answer is reported to the submitter only
	if err := player.SubmitAnswer(created.RoomCode, 0, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := waitFor(t, player, domain.EventError).Err(); !errors.Is(err, domain.ErrStaleQuestion) {
		t.Fatalf("expected stale question after reveal, got %v", err)
	}

	if err := host.NextQuestion(created.RoomCode); err != nil {
		t.Fatalf("next: %v", err)
	}
	var finished domain.RankedPayload
	if err := waitFor(t, player, domain.EventGameFinished).Decode(&finished); err != nil {
		t.Fatalf("decode finished: %v", err)
	}
	if len(finished.Ranked) != 1 || finished.Ranked[0].Score != 1 {
		t.Fatalf("unexpected final ranking: %+v", finished.Ranked)
	}
}

func TestWebSocketJoinRejected(t *testing.T) {
	server, _ := newTestServer(t, DefaultWSOptions())
	ctx := context.Background()

	host := dial(t, server)
	created, err := host.CreateRoom(ctx, "quiz-1", domain.HostInfo{DisplayName: "Host"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	player := dial(t, server)
	if _, err := player.JoinRoom(ctx, created.RoomCode, domain.PlayerInfo{DisplayName: "x"}); !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
	if _, err := player.JoinRoom(ctx, "QQQQQQ", domain.PlayerInfo{DisplayName: "Alice"}); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
	if _, err := player.CreateRoom(ctx, "nope", domain.HostInfo{DisplayName: "Host"}); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}

	// the connection still works after rejections
	if _, err := player.JoinRoom(ctx, created.RoomCode, domain.PlayerInfo{DisplayName: "Alice"}); err != nil {
		t.Fatalf("join after rejection: %v", err)
	}
	if _, err := player.JoinRoom(ctx, created.RoomCode, domain.PlayerInfo{DisplayName: "Alice"}); !errors.Is(err, domain.ErrAlreadyInRoom) {
		t.Fatalf("expected already in room, got %v", err)
	}
}

func TestWebSocketResumeAfterDrop(t *testing.T) {
	server, service := newTestServer(t, DefaultWSOptions())
	ctx := context.Background()

	host := dial(t, server)
	created, err := host.CreateRoom(ctx, "quiz-1", domain.HostInfo{DisplayName: "Host"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	first, err := client.Dial(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	joined, err := first.JoinRoom(ctx, created.RoomCode, domain.PlayerInfo{DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	_ = first.Close()
	var grace domain.ParticipantPayload
	if err := waitFor(t, host, domain.EventParticipantGracePeriod).Decode(&grace); err != nil {
		t.Fatalf("decode grace: %v", err)
	}
	if grace.ParticipantID != joined.PlayerID {
		t.Fatalf("grace period for wrong participant: %+v", grace)
	}

	second := dial(t, server)
	resumed, err := second.Resume(ctx, domain.ResumeRequest{RoomCode: created.RoomCode, ParticipantID: joined.PlayerID, DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.IsHost || resumed.CurrentState.Status != domain.StatusLobby {
		t.Fatalf("unexpected resume payload: %+v", resumed)
	}

	snap, err := service.Snapshot(ctx, created.RoomCode)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Players) != 1 || snap.Players[0].ConnectionState != domain.StateConnected {
		t.Fatalf("expected reconnected player, got %+v", snap.Players)
	}

	if _, err := dial(t, server).Resume(ctx, domain.ResumeRequest{RoomCode: created.RoomCode, ParticipantID: "forged", DisplayName: "Alice"}); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected resume rejected, got %v", err)
	}
}

func TestWebSocketHostLeaveClosesRoom(t *testing.T) {
	server, _ := newTestServer(t, DefaultWSOptions())
	ctx := context.Background()

	host := dial(t, server)
	created, err := host.CreateRoom(ctx, "quiz-1", domain.HostInfo{DisplayName: "Host"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	player := dial(t, server)
	if _, err := player.JoinRoom(ctx, created.RoomCode, domain.PlayerInfo{DisplayName: "Alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := host.LeaveRoom(created.RoomCode); err != nil {
		t.Fatalf("leave: %v", err)
	}
	var closed domain.RoomClosedPayload
	if err := waitFor(t, player, domain.EventRoomClosed).Decode(&closed); err != nil {
		t.Fatalf("decode closed: %v", err)
	}
	if closed.Reason != domain.CloseHostLeft {
		t.Fatalf("expected host_left, got %s", closed.Reason)
	}

	// released connections are free to act again
	if err := player.StartGame(created.RoomCode); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := waitFor(t, player, domain.EventError).Err(); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestWebSocketRejectsMalformedAndFloods(t *testing.T) {
	opts := DefaultWSOptions()
	opts.RateLimit = rate.Every(time.Hour)
	opts.RateBurst = 6
	server, _ := newTestServer(t, opts)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, frame := range []string{"{not json", `{"type":"x"`, "", `{"type":["start_game"]}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write %q: %v", frame, err)
		}
		if code := readNext(conn, t, domain.EventError)["code"]; code != "bad_request" {
			t.Fatalf("frame %q: expected bad_request, got %v", frame, code)
		}
	}

	if err := conn.WriteJSON(map[string]any{"type": "dance", "requestId": "r1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code := readNext(conn, t, domain.EventError)["code"]; code != "bad_request" {
		t.Fatalf("expected bad_request for unknown type, got %v", code)
	}

	if err := conn.WriteJSON(map[string]any{"type": "start_game", "payload": map[string]any{"roomCode": "ABC123"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code := readNext(conn, t, domain.EventError)["code"]; code != "participant_not_found" {
		t.Fatalf("expected participant_not_found for unbound connection, got %v", code)
	}

	// malformed frames count against the limit like any other message
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code := readNext(conn, t, domain.EventError)["code"]; code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %v", code)
	}
}

func TestRoomLookup(t *testing.T) {
	server, _ := newTestServer(t, DefaultWSOptions())

	host := dial(t, server)
	created, err := host.CreateRoom(context.Background(), "quiz-1", domain.HostInfo{DisplayName: "Host"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	resp, err := http.Get(server.URL + "/room/" + strings.ToLower(created.RoomCode))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var summary domain.RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Code != created.RoomCode || summary.Status != domain.StatusLobby || summary.QuizID != "quiz-1" {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	for path, want := range map[string]int{
		"/room/ZZZZZZ": http.StatusNotFound,
		"/room/abc":    http.StatusBadRequest,
		"/healthz":     http.StatusOK,
	} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) map[string]any {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Payload
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{
					ID:                 "q1",
					Text:               "What is 2 + 2?",
					Options:            []string{"3", "4", "5"},
					CorrectOptionIndex: 1,
					Points:             1,
				},
			},
		},
	}
}
