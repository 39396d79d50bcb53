package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"quiz-rooms/internal/domain"
)

const (
	DefaultSessionTTL       = 3 * time.Hour
	DefaultReconnectCeiling = 3
	DefaultReconnectWindow  = 60 * time.Second
)

// Record is what survives a reload: enough to resume a membership, nothing authoritative.
type Record struct {
	RoomCode          string    `json:"roomCode"`
	ParticipantID     string    `json:"participantId"`
	DisplayName       string    `json:"displayName"`
	IsHost            bool      `json:"isHost"`
	LastScore         int       `json:"lastScore"`
	LastQuestionIndex int       `json:"lastQuestionIndex"`
	UpdatedAt         time.Time `json:"updatedAt"`
	Attempts          int       `json:"attempts"`
	LastAttemptAt     time.Time `json:"lastAttemptAt,omitempty"`
}

// Backend persists records keyed by room code.
type Backend interface {
	Get(code string) (Record, bool, error)
	Put(rec Record) error
	Delete(code string) error
}

// Cache is the Session Cache with TTL expiry and the bounded-retry guard for resumes.
type Cache struct {
	backend  Backend
	ttl      time.Duration
	ceiling  int
	cooldown time.Duration
	now      func() time.Time

	mu sync.Mutex
}

type CacheOption func(*Cache)

func WithTTL(d time.Duration) CacheOption { return func(c *Cache) { c.ttl = d } }

// WithReconnectPolicy sets how many resumes are allowed within the cooldown window.
func WithReconnectPolicy(ceiling int, cooldown time.Duration) CacheOption {
	return func(c *Cache) { c.ceiling, c.cooldown = ceiling, cooldown }
}

func WithNow(now func() time.Time) CacheOption { return func(c *Cache) { c.now = now } }

func NewCache(backend Backend, opts ...CacheOption) *Cache {
	c := &Cache{
		backend:  backend,
		ttl:      DefaultSessionTTL,
		ceiling:  DefaultReconnectCeiling,
		cooldown: DefaultReconnectWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save stores rec and refreshes its freshness timestamp. The attempt counter is kept.
func (c *Cache) Save(rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok, err := c.backend.Get(rec.RoomCode); err == nil && ok && prev.ParticipantID == rec.ParticipantID {
		rec.Attempts, rec.LastAttemptAt = prev.Attempts, prev.LastAttemptAt
	}
	rec.UpdatedAt = c.now()
	return c.backend.Put(rec)
}

// Current returns the live record for code, or ErrNoSession if it is missing or expired.
func (c *Cache) Current(code string) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current(code)
}

func (c *Cache) current(code string) (Record, error) {
	rec, ok, err := c.backend.Get(code)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, domain.ErrNoSession
	}
	if c.ttl > 0 && c.now().Sub(rec.UpdatedAt) >= c.ttl {
		_ = c.backend.Delete(code)
		return Record{}, domain.ErrNoSession
	}
	return rec, nil
}

// BeginResume counts one resume attempt. Past the ceiling it discards the record and
// returns ErrReconnectLimitExceeded without any network involvement.
func (c *Cache) BeginResume(code string) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.current(code)
	if err != nil {
		return Record{}, err
	}
	now := c.now()
	if !rec.LastAttemptAt.IsZero() && now.Sub(rec.LastAttemptAt) >= c.cooldown {
		rec.Attempts = 0
	}
	if rec.Attempts >= c.ceiling {
		_ = c.backend.Delete(code)
		return Record{}, domain.ErrReconnectLimitExceeded
	}
	rec.Attempts++
	rec.LastAttemptAt = now
	if err := c.backend.Put(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (c *Cache) Clear(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Delete(code)
}

type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

func (b *MemoryBackend) Get(code string) (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[code]
	return rec, ok, nil
}

func (b *MemoryBackend) Put(rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.RoomCode] = rec
	return nil
}

func (b *MemoryBackend) Delete(code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, code)
	return nil
}

// FileBackend keeps records in one JSON file so a restarted process can resume.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Get(code string) (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.load()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := records[code]
	return rec, ok, nil
}

func (b *FileBackend) Put(rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.load()
	if err != nil {
		return err
	}
	records[rec.RoomCode] = rec
	return b.store(records)
}

func (b *FileBackend) Delete(code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.load()
	if err != nil {
		return err
	}
	if _, ok := records[code]; !ok {
		return nil
	}
	delete(records, code)
	return b.store(records)
}

func (b *FileBackend) load() (map[string]Record, error) {
	records := make(map[string]Record)
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session cache: %w", err)
	}
	if len(raw) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		// a corrupt cache only costs a fresh join
		return make(map[string]Record), nil
	}
	return records, nil
}

func (b *FileBackend) store(records map[string]Record) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create session cache dir: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	return os.Rename(tmp, b.path)
}
