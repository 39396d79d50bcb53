package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"quiz-rooms/internal/app"
)

// releaseScript deletes a reservation only if this instance still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RoomRegistry is a Redis-aware implementation of app.RoomRegistry.
// Notes:
//   - Rooms live in a local map; a room's loop only exists in the process that created it.
//   - Redis holds a reservation per code (SET NX with TTL) so codes stay unique across
//     instances while a room is live. Refresh extends reservations of local rooms.
type RoomRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	instance string
	logger   *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewRoomRegistry(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RoomRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomRegistry{
		client:   client,
		ttl:      ttl,
		instance: uuid.NewString(),
		logger:   logger,
		rooms:    make(map[string]*app.Room),
	}
}

func (s *RoomRegistry) Reserve(ctx context.Context, code string, room *app.Room) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.rooms[code]; taken {
		return false, nil
	}
	ok, err := s.client.SetNX(ctx, s.key(code), s.instance, s.ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	s.rooms[code] = room
	return true, nil
}

func (s *RoomRegistry) Get(code string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

func (s *RoomRegistry) Remove(code string) {
	s.mu.Lock()
	delete(s.rooms, code)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, s.client, []string{s.key(code)}, s.instance).Err(); err != nil && !isMiss(err) {
		s.logger.Warn("release room code", zap.String("room", code), zap.Error(err))
	}
}

func (s *RoomRegistry) All() []*app.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room)
	}
	return out
}

// Refresh extends the reservation of every local room.
func (s *RoomRegistry) Refresh(ctx context.Context) error {
	s.mu.RLock()
	codes := make([]string, 0, len(s.rooms))
	for code := range s.rooms {
		codes = append(codes, code)
	}
	s.mu.RUnlock()
	if len(codes) == 0 || s.ttl <= 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, code := range codes {
		pipe.Expire(ctx, s.key(code), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// KeepAlive runs Refresh every half TTL until ctx is done.
func (s *RoomRegistry) KeepAlive(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("refresh room reservations", zap.Error(err))
			}
		}
	}
}

func (s *RoomRegistry) key(code string) string {
	return "quiz:room:" + code
}
