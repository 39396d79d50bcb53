package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quiz-rooms/internal/domain"
)

type manualNow struct{ t time.Time }

func (m *manualNow) now() time.Time { return m.t }

func (m *manualNow) advance(d time.Duration) { m.t = m.t.Add(d) }

func newTestCache(b Backend) (*Cache, *manualNow) {
	clock := &manualNow{t: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
	return NewCache(b, WithNow(clock.now)), clock
}

func sampleRecord() Record {
	return Record{RoomCode: "ABC123", ParticipantID: "p1", DisplayName: "Alice", LastScore: 100, LastQuestionIndex: 1}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	cache, clock := newTestCache(NewMemoryBackend())
	require.NoError(t, cache.Save(sampleRecord()))

	clock.advance(2 * time.Hour)
	rec, err := cache.Current("ABC123")
	require.NoError(t, err)
	assert.Equal(t, 100, rec.LastScore)

	clock.advance(time.Hour)
	_, err = cache.Current("ABC123")
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestCacheSaveRefreshesFreshness(t *testing.T) {
	cache, clock := newTestCache(NewMemoryBackend())
	require.NoError(t, cache.Save(sampleRecord()))
	clock.advance(2 * time.Hour)
	require.NoError(t, cache.Save(sampleRecord()))
	clock.advance(2 * time.Hour)

	_, err := cache.Current("ABC123")
	assert.NoError(t, err)
}

func TestBeginResumeEnforcesCeiling(t *testing.T) {
	cache, clock := newTestCache(NewMemoryBackend())
	require.NoError(t, cache.Save(sampleRecord()))

	for i := 1; i <= DefaultReconnectCeiling; i++ {
		rec, err := cache.BeginResume("ABC123")
		require.NoError(t, err, "attempt %d", i)
		assert.Equal(t, i, rec.Attempts)
		clock.advance(5 * time.Second)
	}

	_, err := cache.BeginResume("ABC123")
	assert.ErrorIs(t, err, domain.ErrReconnectLimitExceeded)
	assert.False(t, domain.Recoverable(err))

	_, err = cache.Current("ABC123")
	assert.ErrorIs(t, err, domain.ErrNoSession, "session is discarded once the ceiling trips")
}

func TestBeginResumeCounterResetsAfterCooldown(t *testing.T) {
	cache, clock := newTestCache(NewMemoryBackend())
	require.NoError(t, cache.Save(sampleRecord()))

	for i := 0; i < DefaultReconnectCeiling; i++ {
		_, err := cache.BeginResume("ABC123")
		require.NoError(t, err)
	}
	clock.advance(DefaultReconnectWindow)

	rec, err := cache.BeginResume("ABC123")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)

	// a later save keeps the counter
	require.NoError(t, cache.Save(sampleRecord()))
	rec, err = cache.Current("ABC123")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
}

func TestBeginResumeWithoutSession(t *testing.T) {
	cache, _ := newTestCache(NewMemoryBackend())
	_, err := cache.BeginResume("ABC123")
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestFileBackendSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "cache.json")

	first, _ := newTestCache(NewFileBackend(path))
	require.NoError(t, first.Save(sampleRecord()))
	_, err := first.BeginResume("ABC123")
	require.NoError(t, err)

	second, _ := newTestCache(NewFileBackend(path))
	rec, err := second.Current("ABC123")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ParticipantID)
	assert.Equal(t, 1, rec.Attempts)

	require.NoError(t, second.Clear("ABC123"))
	_, err = first.Current("ABC123")
	assert.ErrorIs(t, err, domain.ErrNoSession)
}
