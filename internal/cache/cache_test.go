package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emgflow/emgflow/internal/persistence"
)

// fakeSessions is an in-memory stand-in for the sessions repository,
// tracking only the durable cache surface.
type fakeSessions struct {
	mu          sync.Mutex
	fingerprint map[string]string // session code -> fingerprint
	durable     map[string][]byte // fingerprint -> payload
	hits        map[string]int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		fingerprint: make(map[string]string),
		durable:     make(map[string][]byte),
		hits:        make(map[string]int),
	}
}

func (f *fakeSessions) Create(context.Context, *persistence.TherapySession) error { return nil }
func (f *fakeSessions) GetByCode(context.Context, string) (*persistence.TherapySession, error) {
	return nil, nil
}
func (f *fakeSessions) GetByFingerprint(context.Context, string) (*persistence.TherapySession, error) {
	return nil, nil
}
func (f *fakeSessions) NextSessionOrdinal(context.Context, string) (int, error) { return 1, nil }
func (f *fakeSessions) CountCompletedForPatient(context.Context, string) (int, error) {
	return 0, nil
}
func (f *fakeSessions) UpdateStatus(context.Context, string, persistence.SessionStatus, *string) error {
	return nil
}
func (f *fakeSessions) SetFingerprint(_ context.Context, code, fp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fingerprint[code] = fp
	return nil
}
func (f *fakeSessions) MarkCompleted(context.Context, string, float64) error { return nil }

func (f *fakeSessions) SetAnalyticsCache(_ context.Context, code string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durable[f.fingerprint[code]] = payload
	return nil
}

func (f *fakeSessions) AnalyticsCacheByFingerprint(_ context.Context, fp string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.durable[fp], nil
}

func (f *fakeSessions) TouchCacheHit(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[code]++
	return nil
}

func (f *fakeSessions) ClearAnalyticsCache(_ context.Context, fp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.durable, fp)
	return nil
}

func (f *fakeSessions) hitCount(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[code]
}

type testParams struct {
	Cutoff float64 `json:"cutoff"`
}

func testKey(t *testing.T, fingerprint string) Key {
	t.Helper()
	key, err := NewKey(fingerprint, "v2.1.0", testParams{Cutoff: 20})
	require.NoError(t, err)
	return key
}

func testPayload(t *testing.T) *Payload {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"result": "ok"})
	require.NoError(t, err)
	return &Payload{Analytics: raw, ProcessingTimeMs: 120}
}

func TestKeyDeterminism(t *testing.T) {
	a := testKey(t, "fp1")
	b := testKey(t, "fp1")
	assert.Equal(t, a.String(), b.String())

	// Any component changing changes the key.
	c := testKey(t, "fp2")
	assert.NotEqual(t, a.String(), c.String())

	d, err := NewKey("fp1", "v2.2.0", testParams{Cutoff: 20})
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), d.String())

	e, err := NewKey("fp1", "v2.1.0", testParams{Cutoff: 25})
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), e.String())
}

func TestStoreAndLookupFastPath(t *testing.T) {
	sessions := newFakeSessions()
	rc := New(NewMemoryLayer(16), sessions, time.Hour, zerolog.Nop())
	defer rc.Close()

	ctx := context.Background()
	require.NoError(t, sessions.SetFingerprint(ctx, "P001S001", "fp1"))

	key := testKey(t, "fp1")
	require.NoError(t, rc.Store(ctx, "P001S001", key, testPayload(t)))

	payload, ok := rc.Lookup(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "fp1", payload.Fingerprint)
	assert.Equal(t, "P001S001", payload.SourceSession)
}

func TestLookupDurableFallbackPromotes(t *testing.T) {
	sessions := newFakeSessions()
	rc := New(NewMemoryLayer(16), sessions, time.Hour, zerolog.Nop())
	defer rc.Close()

	ctx := context.Background()
	require.NoError(t, sessions.SetFingerprint(ctx, "P001S001", "fp1"))
	key := testKey(t, "fp1")
	require.NoError(t, rc.Store(ctx, "P001S001", key, testPayload(t)))

	// Fresh fast layer simulates a restart: only the durable copy remains.
	restarted := New(NewMemoryLayer(16), sessions, time.Hour, zerolog.Nop())
	defer restarted.Close()

	payload, ok := restarted.Lookup(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "P001S001", payload.SourceSession)

	// Promotion lands asynchronously in the fast layer and bumps the hit
	// counter on the source session.
	assert.Eventually(t, func() bool {
		return restarted.Stats().Entries == 1 && sessions.hitCount("P001S001") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLookupMissesOnVersionChange(t *testing.T) {
	sessions := newFakeSessions()
	rc := New(NewMemoryLayer(16), sessions, time.Hour, zerolog.Nop())
	defer rc.Close()

	ctx := context.Background()
	require.NoError(t, sessions.SetFingerprint(ctx, "P001S001", "fp1"))
	require.NoError(t, rc.Store(ctx, "P001S001", testKey(t, "fp1"), testPayload(t)))

	// Same fingerprint, new pipeline version: durable copy must not serve.
	newKey, err := NewKey("fp1", "v3.0.0", testParams{Cutoff: 20})
	require.NoError(t, err)
	_, ok := rc.Lookup(ctx, newKey)
	assert.False(t, ok)
}

func TestLookupMissesOnParamChange(t *testing.T) {
	sessions := newFakeSessions()
	rc := New(NewMemoryLayer(16), sessions, time.Hour, zerolog.Nop())
	defer rc.Close()

	ctx := context.Background()
	require.NoError(t, sessions.SetFingerprint(ctx, "P001S001", "fp1"))
	require.NoError(t, rc.Store(ctx, "P001S001", testKey(t, "fp1"), testPayload(t)))

	changed, err := NewKey("fp1", "v2.1.0", testParams{Cutoff: 30})
	require.NoError(t, err)
	_, ok := rc.Lookup(ctx, changed)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	sessions := newFakeSessions()
	rc := New(NewMemoryLayer(16), sessions, time.Hour, zerolog.Nop())
	defer rc.Close()

	ctx := context.Background()
	require.NoError(t, sessions.SetFingerprint(ctx, "P001S001", "fp1"))
	key := testKey(t, "fp1")
	require.NoError(t, rc.Store(ctx, "P001S001", key, testPayload(t)))

	require.NoError(t, rc.Invalidate(ctx, "fp1"))
	_, ok := rc.Lookup(ctx, key)
	assert.False(t, ok)
}

func TestInvalidateScopedToFingerprint(t *testing.T) {
	sessions := newFakeSessions()
	rc := New(NewMemoryLayer(16), sessions, time.Hour, zerolog.Nop())
	defer rc.Close()

	ctx := context.Background()
	require.NoError(t, sessions.SetFingerprint(ctx, "P001S001", "fp1"))
	require.NoError(t, sessions.SetFingerprint(ctx, "P001S002", "fp2"))
	keyA := testKey(t, "fp1")
	keyB := testKey(t, "fp2")
	require.NoError(t, rc.Store(ctx, "P001S001", keyA, testPayload(t)))
	require.NoError(t, rc.Store(ctx, "P001S002", keyB, testPayload(t)))

	require.NoError(t, rc.Invalidate(ctx, "fp1"))

	_, ok := rc.Lookup(ctx, keyA)
	assert.False(t, ok)

	// The other fingerprint keeps its fast-layer entry and still hits.
	assert.Equal(t, 1, rc.Stats().Entries)
	payload, ok := rc.Lookup(ctx, keyB)
	require.True(t, ok)
	assert.Equal(t, "P001S002", payload.SourceSession)
}

func TestComputeCollapsesConcurrentCallers(t *testing.T) {
	sessions := newFakeSessions()
	rc := New(NewMemoryLayer(16), sessions, time.Hour, zerolog.Nop())
	defer rc.Close()

	key := testKey(t, "fp1")
	var computations int32
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rc.Compute(key, func() (*Payload, error) {
				mu.Lock()
				computations++
				mu.Unlock()
				time.Sleep(50 * time.Millisecond)
				return testPayload(t), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, int(computations), 8)
}
