package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emgflow/emgflow/internal/c3d"
	"github.com/emgflow/emgflow/internal/cache"
	"github.com/emgflow/emgflow/internal/config"
	"github.com/emgflow/emgflow/internal/errs"
	"github.com/emgflow/emgflow/internal/persistence"
	"github.com/emgflow/emgflow/internal/persistence/postgres"
	"github.com/emgflow/emgflow/internal/worker"
)

// memStore is an in-memory implementation of the repository bundle.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*persistence.TherapySession
	tech     map[string]*persistence.TechnicalMetadata
	params   map[string]*persistence.ProcessingParameters
	stats    map[string][]persistence.EMGChannelStatistics
	scores   map[string]*persistence.PerformanceScore
	bfr      map[string][]persistence.BFRMonitoring
	settings map[string]*persistence.SessionSettings
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*persistence.TherapySession),
		tech:     make(map[string]*persistence.TechnicalMetadata),
		params:   make(map[string]*persistence.ProcessingParameters),
		stats:    make(map[string][]persistence.EMGChannelStatistics),
		scores:   make(map[string]*persistence.PerformanceScore),
		bfr:      make(map[string][]persistence.BFRMonitoring),
		settings: make(map[string]*persistence.SessionSettings),
	}
}

func (m *memStore) repository() *persistence.Repository {
	return &persistence.Repository{
		Sessions:       (*memSessions)(m),
		Technical:      (*memTechnical)(m),
		Params:         (*memParams)(m),
		Stats:          (*memStats)(m),
		Scores:         (*memScores)(m),
		BFR:            (*memBFR)(m),
		Settings:       (*memSettings)(m),
		ScoringConfigs: noConfigs{},
		Patients:       noPatients{},
	}
}

func (m *memStore) session(code string) persistence.TherapySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[code]
	if !ok {
		return persistence.TherapySession{}
	}
	return *s
}

type memSessions memStore

func (m *memSessions) Create(_ context.Context, s *persistence.TherapySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.SessionCode]; exists {
		return fmt.Errorf("%w: %s", postgres.ErrDuplicateSession, s.SessionCode)
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.sessions[s.SessionCode] = &cp
	return nil
}

func (m *memSessions) GetByCode(_ context.Context, code string) (*persistence.TherapySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[code]
	if !ok {
		return nil, &errs.SessionNotFoundError{SessionCode: code}
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) GetByFingerprint(_ context.Context, fp string) (*persistence.TherapySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Fingerprint == fp {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memSessions) NextSessionOrdinal(_ context.Context, patientCode string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for code := range m.sessions {
		if strings.HasPrefix(code, patientCode+"S") {
			count++
		}
	}
	return count + 1, nil
}

func (m *memSessions) CountCompletedForPatient(_ context.Context, patientCode string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for code, s := range m.sessions {
		if strings.HasPrefix(code, patientCode+"S") && s.Status == persistence.StatusCompleted {
			count++
		}
	}
	return count, nil
}

func (m *memSessions) UpdateStatus(_ context.Context, code string, status persistence.SessionStatus, msg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[code]
	if !ok {
		return &errs.SessionNotFoundError{SessionCode: code}
	}
	if !s.Status.CanTransition(status) {
		return fmt.Errorf("illegal status transition %s -> %s", s.Status, status)
	}
	s.Status = status
	s.ProcessingError = msg
	return nil
}

func (m *memSessions) SetFingerprint(_ context.Context, code, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[code]; ok {
		s.Fingerprint = fp
	}
	return nil
}

func (m *memSessions) MarkCompleted(_ context.Context, code string, ms float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[code]
	if !ok {
		return &errs.SessionNotFoundError{SessionCode: code}
	}
	if s.Status != persistence.StatusProcessing && s.Status != persistence.StatusReprocessing {
		return fmt.Errorf("session %s not in a completable state", code)
	}
	now := time.Now()
	s.Status = persistence.StatusCompleted
	s.ProcessingTimeMs = &ms
	s.ProcessedAt = &now
	s.ProcessingError = nil
	return nil
}

func (m *memSessions) SetAnalyticsCache(_ context.Context, code string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[code]; ok {
		s.AnalyticsCache = payload
	}
	return nil
}

func (m *memSessions) AnalyticsCacheByFingerprint(_ context.Context, fp string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Fingerprint == fp && s.Status == persistence.StatusCompleted && s.AnalyticsCache != nil {
			return s.AnalyticsCache, nil
		}
	}
	return nil, nil
}

func (m *memSessions) TouchCacheHit(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[code]; ok {
		s.CacheHits++
	}
	return nil
}

func (m *memSessions) ClearAnalyticsCache(_ context.Context, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Fingerprint == fp {
			s.AnalyticsCache = nil
		}
	}
	return nil
}

type memTechnical memStore

func (m *memTechnical) Upsert(_ context.Context, md *persistence.TechnicalMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *md
	m.tech[md.SessionID] = &cp
	return nil
}

func (m *memTechnical) Get(_ context.Context, id string) (*persistence.TechnicalMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tech[id], nil
}

type memParams memStore

func (m *memParams) Upsert(_ context.Context, p *persistence.ProcessingParameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.params[p.SessionID] = &cp
	return nil
}

func (m *memParams) Get(_ context.Context, id string) (*persistence.ProcessingParameters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params[id], nil
}

type memStats memStore

func (m *memStats) ReplaceForSession(_ context.Context, id string, stats []persistence.EMGChannelStatistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[id] = append([]persistence.EMGChannelStatistics(nil), stats...)
	return nil
}

func (m *memStats) ListBySession(_ context.Context, id string) ([]persistence.EMGChannelStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[id], nil
}

func (m *memStats) CountByFingerprint(context.Context, string) (int, error) { return 0, nil }

type memScores memStore

func (m *memScores) Upsert(_ context.Context, s *persistence.PerformanceScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.scores[s.SessionID] = &cp
	return nil
}

func (m *memScores) Get(_ context.Context, id string) (*persistence.PerformanceScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scores[id], nil
}

type memBFR memStore

func (m *memBFR) ReplaceForSession(_ context.Context, id string, rows []persistence.BFRMonitoring) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bfr[id] = append([]persistence.BFRMonitoring(nil), rows...)
	return nil
}

func (m *memBFR) ListBySession(_ context.Context, id string) ([]persistence.BFRMonitoring, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bfr[id], nil
}

type memSettings memStore

func (m *memSettings) Upsert(_ context.Context, s *persistence.SessionSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings[s.SessionID] = &cp
	return nil
}

func (m *memSettings) Get(_ context.Context, id string) (*persistence.SessionSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[id], nil
}

type noConfigs struct{}

func (noConfigs) GetGlobalActive(context.Context) (*persistence.ScoringConfigRow, error) {
	return nil, nil
}
func (noConfigs) GetForPatient(context.Context, string) (*persistence.ScoringConfigRow, error) {
	return nil, nil
}
func (noConfigs) GetForSession(context.Context, string) (*persistence.ScoringConfigRow, error) {
	return nil, nil
}

type noPatients struct{}

func (noPatients) ResolveByCode(context.Context, string) (*string, *string, error) {
	return nil, nil, nil
}

// fakeDownloader serves objects from memory and counts fetches.
type fakeDownloader struct {
	mu      sync.Mutex
	objects map[string][]byte
	fetches int
	err     error
}

func (f *fakeDownloader) Download(_ context.Context, bucket, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[bucket+"/"+path]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, path)
	}
	return data, nil
}

func (f *fakeDownloader) Healthy() bool { return true }

// hookRecorder captures pipeline milestones.
type hookRecorder struct {
	mu       sync.Mutex
	outcomes []persistence.SessionStatus
	hits     int
	misses   int
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnOutcome: func(s persistence.SessionStatus) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.outcomes = append(h.outcomes, s)
		},
		OnCache: func(hit bool) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if hit {
				h.hits++
			} else {
				h.misses++
			}
		},
	}
}

func (h *hookRecorder) cacheHits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits
}

// testRecording builds a valid 15 s two-channel capture with contraction
// bursts and game metadata.
func testRecording(t *testing.T) []byte {
	t.Helper()
	fs := 1000.0
	n := 15000
	left := make([]float64, n)
	right := make([]float64, n)
	for i := range left {
		noise := 0.02 * math.Sin(2*math.Pi*90*float64(i)/fs)
		left[i], right[i] = noise, noise
		// Three 2 s bursts separated by 2 s of rest.
		cycle := i % 4000
		if cycle < 2000 {
			left[i] += math.Sin(2 * math.Pi * 60 * float64(i) / fs)
			right[i] += 0.8 * math.Sin(2*math.Pi*60*float64(i)/fs)
		}
	}

	return c3d.NewBuilder(fs).
		AddChannel("EMG Left Quad", left).
		AddChannel("EMG Right Quad", right).
		SetString("INFO", "GAME_NAME", "SpaceRehab").
		SetFloat("SUBJECTS", "RPE", 6).
		SetFloat("SUBJECTS", "GAME_POINTS_ACHIEVED", 80).
		SetFloat("SUBJECTS", "GAME_POINTS_MAX", 100).
		SetFloat("SUBJECTS", "BFR_PRESSURE_AOP", 50).
		Bytes()
}

type testRig struct {
	store     *memStore
	downloads *fakeDownloader
	hooks     *hookRecorder
	processor *Processor
	pool      *worker.Pool
}

func newTestRig(t *testing.T, objects map[string][]byte) *testRig {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DSN = "unused"

	store := newMemStore()
	downloads := &fakeDownloader{objects: objects}
	hooks := &hookRecorder{}

	rc := cache.New(cache.NewMemoryLayer(32), store.repository().Sessions, time.Hour, zerolog.Nop())
	pool := worker.New(2, 8, time.Minute, zerolog.Nop())
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	t.Cleanup(func() { rc.Close() })

	processor := NewProcessor(&cfg, store.repository(), rc, downloads, pool, hooks.hooks(), zerolog.Nop())
	return &testRig{store: store, downloads: downloads, hooks: hooks, processor: processor, pool: pool}
}

func waitForStatus(t *testing.T, store *memStore, code string, status persistence.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return store.session(code).Status == status
	}, 10*time.Second, 20*time.Millisecond, "session %s never reached %s", code, status)
}

func TestHandleUploadProcessesSession(t *testing.T) {
	rig := newTestRig(t, map[string][]byte{
		"c3d-examples/P001/game.c3d": testRecording(t),
	})

	intake, err := rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/game.c3d")
	require.NoError(t, err)
	assert.Equal(t, "P001S001", intake.SessionCode)
	assert.Equal(t, persistence.StatusPending, intake.Status)
	assert.True(t, intake.Queued)

	waitForStatus(t, rig.store, "P001S001", persistence.StatusCompleted)

	sess := rig.store.session("P001S001")
	require.NotNil(t, sess.ProcessingTimeMs)
	assert.NotEmpty(t, sess.Fingerprint)

	// The result cache lands after completion.
	require.Eventually(t, func() bool {
		return rig.store.session("P001S001").AnalyticsCache != nil
	}, 5*time.Second, 20*time.Millisecond)

	rig.store.mu.Lock()
	defer rig.store.mu.Unlock()
	stats := rig.store.stats[sess.ID]
	require.Len(t, stats, 2)
	assert.Equal(t, "EMG Left Quad", stats[0].ChannelName)
	assert.Greater(t, stats[0].ContractionCount, 0)
	assert.NotEmpty(t, stats[0].ContractionsJSON)

	tech := rig.store.tech[sess.ID]
	require.NotNil(t, tech)
	assert.Equal(t, 2, tech.ChannelCount)
	assert.InDelta(t, 1000.0, tech.SamplingRateHz, 1e-6)
	assert.InDelta(t, 15.0, tech.DurationSec, 1e-6)

	params := rig.store.params[sess.ID]
	require.NotNil(t, params)
	assert.InDelta(t, 20.0, params.FilterLowCutoffHz, 1e-9)
	assert.Less(t, params.FilterHighCutoffHz, 500.0)
	assert.Greater(t, params.FilterHighCutoffHz, params.FilterLowCutoffHz)

	score := rig.store.scores[sess.ID]
	require.NotNil(t, score)
	assert.False(t, score.EffortSynthetic)
	require.NotNil(t, score.RPE)
	assert.Equal(t, 6, *score.RPE)
	require.NotNil(t, score.GameScore)
	assert.InDelta(t, 0.8, *score.GameScore, 1e-6)
	assert.True(t, score.BFRCompliant)

	bfr := rig.store.bfr[sess.ID]
	require.Len(t, bfr, 2)
	assert.True(t, bfr[0].Compliant)
	assert.InDelta(t, 50.0, bfr[0].AppliedPressureAOP, 1e-6)

	settings := rig.store.settings[sess.ID]
	require.NotNil(t, settings)
	assert.True(t, settings.BFREnabled)
	assert.Equal(t, 12, settings.ExpectedContractionsPerMuscle)
}

func TestSecondUploadServedFromCache(t *testing.T) {
	recording := testRecording(t)
	rig := newTestRig(t, map[string][]byte{
		"c3d-examples/P001/a.c3d": recording,
		"c3d-examples/P001/b.c3d": recording,
	})

	_, err := rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/a.c3d")
	require.NoError(t, err)
	waitForStatus(t, rig.store, "P001S001", persistence.StatusCompleted)
	require.Eventually(t, func() bool {
		return rig.store.session("P001S001").AnalyticsCache != nil
	}, 5*time.Second, 20*time.Millisecond)

	_, err = rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/b.c3d")
	require.NoError(t, err)
	waitForStatus(t, rig.store, "P001S002", persistence.StatusCompleted)

	assert.Equal(t, 1, rig.hooks.cacheHits())

	// The cache hit still lands full rows on the second session.
	second := rig.store.session("P001S002")
	rig.store.mu.Lock()
	defer rig.store.mu.Unlock()
	assert.Len(t, rig.store.stats[second.ID], 2)
	assert.NotNil(t, rig.store.scores[second.ID])
}

func TestUploadOrdinalsIncrement(t *testing.T) {
	recording := testRecording(t)
	rig := newTestRig(t, map[string][]byte{
		"c3d-examples/P001/a.c3d": recording,
		"c3d-examples/P001/b.c3d": recording,
	})

	first, err := rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/a.c3d")
	require.NoError(t, err)
	second, err := rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/b.c3d")
	require.NoError(t, err)
	assert.Equal(t, "P001S001", first.SessionCode)
	assert.Equal(t, "P001S002", second.SessionCode)
}

func TestHandleUploadRejectsPathWithoutPatientCode(t *testing.T) {
	rig := newTestRig(t, nil)
	_, err := rig.processor.HandleUpload(context.Background(), "c3d-examples", "misc/game.c3d")
	require.Error(t, err)
}

func TestProcessFailsOnQualityGate(t *testing.T) {
	short := c3d.NewBuilder(1000).
		AddChannel("EMG Left Quad", make([]float64, 500)).
		Bytes()
	rig := newTestRig(t, map[string][]byte{
		"c3d-examples/P001/short.c3d": short,
	})

	_, err := rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/short.c3d")
	require.NoError(t, err)
	waitForStatus(t, rig.store, "P001S001", persistence.StatusFailed)

	sess := rig.store.session("P001S001")
	require.NotNil(t, sess.ProcessingError)
	assert.Contains(t, *sess.ProcessingError, "signal quality")
}

func TestProcessFailsOnDownloadError(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.downloads.err = errors.New("object store unavailable")

	_, err := rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/game.c3d")
	require.NoError(t, err)
	waitForStatus(t, rig.store, "P001S001", persistence.StatusFailed)
}

func TestReprocessRecomputes(t *testing.T) {
	rig := newTestRig(t, map[string][]byte{
		"c3d-examples/P001/game.c3d": testRecording(t),
	})

	_, err := rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/game.c3d")
	require.NoError(t, err)
	waitForStatus(t, rig.store, "P001S001", persistence.StatusCompleted)

	require.NoError(t, rig.processor.Reprocess(context.Background(), "P001S001"))
	waitForStatus(t, rig.store, "P001S001", persistence.StatusCompleted)

	// Reprocessing bypasses the cache: no hit recorded.
	assert.Zero(t, rig.hooks.cacheHits())
	require.Eventually(t, func() bool {
		return rig.store.session("P001S001").AnalyticsCache != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReprocessRejectsNonCompleted(t *testing.T) {
	rig := newTestRig(t, nil)
	require.NoError(t, rig.store.repository().Sessions.Create(context.Background(), &persistence.TherapySession{
		ID:          uuid.NewString(),
		SessionCode: "P001S001",
		Bucket:      "c3d-examples",
		ObjectPath:  "P001/game.c3d",
		Status:      persistence.StatusPending,
	}))

	err := rig.processor.Reprocess(context.Background(), "P001S001")
	require.Error(t, err)
}

func TestAdherenceCountsCompletedSessions(t *testing.T) {
	rig := newTestRig(t, map[string][]byte{
		"c3d-examples/P001/game.c3d": testRecording(t),
	})

	_, err := rig.processor.Adherence(context.Background(), "BAD1", 30, 21, 7)
	require.Error(t, err)

	report, err := rig.processor.Adherence(context.Background(), "P001", 30, 21, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, report.CompletedSessions)
	assert.Zero(t, report.Percent)

	_, err = rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/game.c3d")
	require.NoError(t, err)
	waitForStatus(t, rig.store, "P001S001", persistence.StatusCompleted)

	report, err = rig.processor.Adherence(context.Background(), "P001", 30, 21, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CompletedSessions)
	assert.InDelta(t, 10.0, report.ExpectedSessions, 1e-9)
	assert.InDelta(t, 10.0, report.Percent, 1e-9)
}

func TestStatusReport(t *testing.T) {
	rig := newTestRig(t, map[string][]byte{
		"c3d-examples/P001/game.c3d": testRecording(t),
	})

	_, err := rig.processor.Status(context.Background(), "P001S001")
	require.Error(t, err)

	_, err = rig.processor.HandleUpload(context.Background(), "c3d-examples", "P001/game.c3d")
	require.NoError(t, err)
	waitForStatus(t, rig.store, "P001S001", persistence.StatusCompleted)

	report, err := rig.processor.Status(context.Background(), "P001S001")
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusCompleted, report.Session.Status)
	require.NotNil(t, report.Score)
	assert.Len(t, report.Channels, 2)
}
