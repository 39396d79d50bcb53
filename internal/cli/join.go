package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"quiz-rooms/internal/client"
	"quiz-rooms/internal/domain"
)

type joinFlags struct {
	url         string
	room        string
	name        string
	sessionFile string
	autoAnswer  bool
}

// NewJoinCmd runs a bot player against a live room. A cached session for the room is resumed first.
func NewJoinCmd(port *string) *cobra.Command {
	var f joinFlags
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join or resume a room as a bot player",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.url == "" {
				f.url = fmt.Sprintf("ws://localhost:%s/ws", *port)
			}
			if f.sessionFile == "" {
				dir, err := os.UserCacheDir()
				if err != nil {
					dir = os.TempDir()
				}
				f.sessionFile = filepath.Join(dir, "quiz-rooms", "sessions.json")
			}
			return runJoin(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "", "websocket url of the server")
	cmd.Flags().StringVar(&f.room, "room", "", "room code to join")
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.sessionFile, "session-file", "", "where the session cache is kept")
	cmd.Flags().BoolVar(&f.autoAnswer, "auto-answer", true, "answer every question with a random option")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func runJoin(parent context.Context, f joinFlags) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := client.Dial(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	session := client.NewSession(conn, client.NewCache(client.NewFileBackend(f.sessionFile)))
	if _, err := session.Resume(ctx, f.room); err == nil {
		logger.Info("resumed session", zap.String("room", f.room))
	} else {
		if !errors.Is(err, domain.ErrNoSession) && !errors.Is(err, domain.ErrReconnectLimitExceeded) {
			logger.Warn("resume failed, joining fresh", zap.Error(err))
		}
		if f.name == "" {
			return fmt.Errorf("--name is required to join %s", f.room)
		}
		joined, err := session.Join(ctx, f.room, domain.PlayerInfo{DisplayName: f.name})
		if err != nil {
			return err
		}
		logger.Info("joined room", zap.String("room", joined.Room.Code), zap.String("player_id", joined.PlayerID))
		if q := joined.CurrentQuestion; q != nil && f.autoAnswer {
			answer(conn, joined.Room.Code, *q, logger)
		}
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return conn.Err()
		case evt, ok := <-conn.Events():
			if !ok {
				return conn.Err()
			}
			if err := session.Apply(evt); err != nil {
				logger.Warn("apply event", zap.String("type", evt.Type), zap.Error(err))
			}
			view := session.View()
			logger.Info("event", zap.String("type", evt.Type), zap.Int("score", view.Score))

			switch evt.Type {
			case domain.EventGameStarted, domain.EventQuestionActivated:
				var q domain.QuestionPayload
				if err := evt.Decode(&q); err == nil && f.autoAnswer {
					time.Sleep(time.Duration(rnd.Intn(1500)) * time.Millisecond)
					answer(conn, view.Room.Code, q, logger)
				}
			case domain.EventError:
				logger.Warn("server error", zap.Error(evt.Err()))
			case domain.EventGameFinished:
				for _, entry := range view.Ranked {
					logger.Info("final", zap.Int("rank", entry.Rank), zap.String("name", entry.DisplayName), zap.Int("score", entry.Score))
				}
			case domain.EventRoomClosed:
				logger.Info("room closed", zap.String("reason", view.Closed))
				return nil
			}
		}
	}
}

func answer(conn *client.Conn, code string, q domain.QuestionPayload, logger *zap.Logger) {
	if len(q.Question.Options) == 0 {
		return
	}
	choice := rand.Intn(len(q.Question.Options))
	if err := conn.SubmitAnswer(code, q.QuestionIndex, choice); err != nil {
		logger.Warn("submit answer", zap.Error(err))
	}
}
