// Package session orchestrates the life of a therapy session: intake from
// a storage event, background download and analysis, persistence, caching,
// and reprocessing.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emgflow/emgflow/internal/c3d"
	"github.com/emgflow/emgflow/internal/cache"
	"github.com/emgflow/emgflow/internal/config"
	"github.com/emgflow/emgflow/internal/contraction"
	"github.com/emgflow/emgflow/internal/errs"
	"github.com/emgflow/emgflow/internal/persistence"
	"github.com/emgflow/emgflow/internal/persistence/postgres"
	"github.com/emgflow/emgflow/internal/scoring"
	"github.com/emgflow/emgflow/internal/signal"
	"github.com/emgflow/emgflow/internal/storage"
	"github.com/emgflow/emgflow/internal/worker"
)

// Hooks are optional metric callbacks invoked on pipeline milestones.
type Hooks struct {
	OnOutcome func(status persistence.SessionStatus)
	OnCache   func(hit bool)
}

// IntakeResult is the webhook-facing answer of the fast intake path.
type IntakeResult struct {
	SessionID   string                   `json:"session_id"`
	SessionCode string                   `json:"session_code"`
	Status      persistence.SessionStatus `json:"status"`
	Queued      bool                     `json:"queued"`
}

// StatusReport is the answer of the status endpoint.
type StatusReport struct {
	Session  *persistence.TherapySession       `json:"session"`
	Score    *persistence.PerformanceScore     `json:"score,omitempty"`
	Channels []persistence.EMGChannelStatistics `json:"channels,omitempty"`
}

// Processor coordinates intake and background analysis.
type Processor struct {
	cfg    *config.Config
	repos  *persistence.Repository
	cache  *cache.ResultCache
	store  storage.Downloader
	pool   *worker.Pool
	hooks  Hooks
	log    zerolog.Logger
}

// NewProcessor wires the session processor.
func NewProcessor(cfg *config.Config, repos *persistence.Repository, rc *cache.ResultCache,
	store storage.Downloader, pool *worker.Pool, hooks Hooks, log zerolog.Logger) *Processor {
	return &Processor{
		cfg:   cfg,
		repos: repos,
		cache: rc,
		store: store,
		pool:  pool,
		hooks: hooks,
		log:   log.With().Str("component", "session_processor").Logger(),
	}
}

// HandleUpload is the fast intake path: create a pending session row,
// enqueue the background task, and return within the webhook budget. No
// download or analysis happens here.
func (p *Processor) HandleUpload(ctx context.Context, bucket, objectPath string) (*IntakeResult, error) {
	patientCode := PatientCodeFromPath(objectPath)
	if patientCode == "" {
		return nil, fmt.Errorf("object path %q carries no patient code", objectPath)
	}

	var patientID, therapistID *string
	if pid, tid, err := p.repos.Patients.ResolveByCode(ctx, patientCode); err != nil {
		p.log.Warn().Err(err).Str("patient_code", patientCode).Msg("patient lookup failed, continuing unlinked")
	} else {
		patientID, therapistID = pid, tid
	}

	sess, err := p.createWithFreshCode(ctx, patientCode, bucket, objectPath, patientID, therapistID)
	if err != nil {
		return nil, err
	}

	queued := true
	if err := p.pool.Submit(worker.Task{
		Name: "process:" + sess.SessionCode,
		Run: func(taskCtx context.Context) error {
			return p.process(taskCtx, sess.SessionCode)
		},
	}); err != nil {
		// Queue saturated. The row stays pending; a later sweep or manual
		// reprocess picks it up.
		p.log.Warn().Str("session", sess.SessionCode).Msg("processing queue full, session left pending")
		queued = false
	}

	return &IntakeResult{
		SessionID:   sess.ID,
		SessionCode: sess.SessionCode,
		Status:      sess.Status,
		Queued:      queued,
	}, nil
}

// createWithFreshCode reserves the next session ordinal, retrying on code
// collisions from concurrent intakes.
func (p *Processor) createWithFreshCode(ctx context.Context, patientCode, bucket, objectPath string,
	patientID, therapistID *string) (*persistence.TherapySession, error) {
	for attempt := 0; attempt < 3; attempt++ {
		ordinal, err := p.repos.Sessions.NextSessionOrdinal(ctx, patientCode)
		if err != nil {
			return nil, err
		}
		code, err := FormatCode(patientCode, ordinal+attempt)
		if err != nil {
			return nil, err
		}
		sess := &persistence.TherapySession{
			ID:          uuid.NewString(),
			SessionCode: code,
			Bucket:      bucket,
			ObjectPath:  objectPath,
			PatientID:   patientID,
			TherapistID: therapistID,
			Status:      persistence.StatusPending,
		}
		err = p.repos.Sessions.Create(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, postgres.ErrDuplicateSession) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("could not reserve a session code for %s", patientCode)
}

// Reprocess moves a completed session back through the pipeline with a
// fresh computation: the cache for its fingerprint is invalidated first.
func (p *Processor) Reprocess(ctx context.Context, code string) error {
	sess, err := p.repos.Sessions.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if err := p.repos.Sessions.UpdateStatus(ctx, code, persistence.StatusReprocessing, nil); err != nil {
		return err
	}
	if sess.Fingerprint != "" {
		if err := p.cache.Invalidate(ctx, sess.Fingerprint); err != nil {
			p.log.Warn().Err(err).Str("session", code).Msg("cache invalidation failed")
		}
	}
	return p.pool.Submit(worker.Task{
		Name: "reprocess:" + code,
		Run: func(taskCtx context.Context) error {
			return p.process(taskCtx, code)
		},
	})
}

// Adherence reports protocol adherence for a patient. Completed sessions
// are counted from the store; the protocol parameters come from the caller
// since this service stores no treatment plans.
func (p *Processor) Adherence(ctx context.Context, patientCode string, plannedTotal, trialLengthDays, protocolDay int) (*scoring.Adherence, error) {
	if !patientCodeRe.MatchString(patientCode) {
		return nil, fmt.Errorf("invalid patient code %q", patientCode)
	}
	completed, err := p.repos.Sessions.CountCompletedForPatient(ctx, patientCode)
	if err != nil {
		return nil, err
	}
	return scoring.ComputeAdherence(plannedTotal, trialLengthDays, completed, protocolDay)
}

// Status reports a session with its score and channel statistics.
func (p *Processor) Status(ctx context.Context, code string) (*StatusReport, error) {
	sess, err := p.repos.Sessions.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{Session: sess}
	if sess.Status == persistence.StatusCompleted {
		if score, err := p.repos.Scores.Get(ctx, sess.ID); err == nil {
			report.Score = score
		}
		if stats, err := p.repos.Stats.ListBySession(ctx, sess.ID); err == nil {
			report.Channels = stats
		}
	}
	return report, nil
}

// process is the background pipeline: download, fingerprint, cache consult,
// analysis, persistence, completion.
func (p *Processor) process(ctx context.Context, code string) error {
	start := time.Now()
	log := p.log.With().Str("session", code).Logger()

	sess, err := p.repos.Sessions.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	reprocessing := sess.Status == persistence.StatusReprocessing
	if !reprocessing {
		if err := p.repos.Sessions.UpdateStatus(ctx, code, persistence.StatusProcessing, nil); err != nil {
			return err
		}
	}

	data, err := p.store.Download(ctx, sess.Bucket, sess.ObjectPath)
	if err != nil {
		return p.fail(ctx, log, code, err)
	}

	fingerprint := cache.Fingerprint(data)
	if err := p.repos.Sessions.SetFingerprint(ctx, code, fingerprint); err != nil {
		return p.fail(ctx, log, code, err)
	}

	params := p.pipelineParams()
	key, err := cache.NewKey(fingerprint, p.cfg.Processing.Version, params)
	if err != nil {
		return p.fail(ctx, log, code, err)
	}

	bypassCache := reprocessing || !p.cfg.Processing.DeduplicateUploads
	if !bypassCache {
		if payload, ok := p.cache.Lookup(ctx, key); ok {
			analytics, err := decodeAnalytics(payload.Analytics)
			if err == nil {
				log.Info().Str("fingerprint", fingerprint).Msg("analysis served from cache")
				if p.hooks.OnCache != nil {
					p.hooks.OnCache(true)
				}
				return p.finish(ctx, log, sess, analytics, start)
			}
			log.Warn().Err(err).Msg("cached analytics undecodable, recomputing")
		}
		if p.hooks.OnCache != nil {
			p.hooks.OnCache(false)
		}
	}

	scoringConfig := p.resolveScoringConfig(ctx, sess)

	payload, err := p.cache.Compute(key, func() (*cache.Payload, error) {
		analytics, err := p.analyze(code, data, scoringConfig, log)
		if err != nil {
			return nil, err
		}
		raw, err := encodeAnalytics(analytics)
		if err != nil {
			return nil, err
		}
		paramsRaw, _ := json.Marshal(params)
		return &cache.Payload{
			Analytics:        raw,
			Params:           paramsRaw,
			ProcessingTimeMs: float64(time.Since(start).Milliseconds()),
		}, nil
	})
	if err != nil {
		return p.fail(ctx, log, code, err)
	}

	analytics, err := decodeAnalytics(payload.Analytics)
	if err != nil {
		return p.fail(ctx, log, code, err)
	}
	if err := p.finish(ctx, log, sess, analytics, start); err != nil {
		return err
	}
	if err := p.cache.Store(ctx, code, key, payload); err != nil {
		log.Warn().Err(err).Msg("result cache store failed")
	}
	return nil
}

// finish persists the analytics bundle against the session and marks it
// completed.
func (p *Processor) finish(ctx context.Context, log zerolog.Logger, sess *persistence.TherapySession,
	a *Analytics, start time.Time) error {
	if err := p.persistAnalytics(ctx, sess, a); err != nil {
		return p.fail(ctx, log, sess.SessionCode, err)
	}
	elapsed := float64(time.Since(start).Milliseconds())
	if err := p.repos.Sessions.MarkCompleted(ctx, sess.SessionCode, elapsed); err != nil {
		return err
	}
	if p.hooks.OnOutcome != nil {
		p.hooks.OnOutcome(persistence.StatusCompleted)
	}
	log.Info().Float64("elapsed_ms", elapsed).Int("channels", len(a.Channels)).Msg("session completed")
	return nil
}

// fail marks the session failed with the structured error message. The
// original error is returned for task-level logging.
func (p *Processor) fail(ctx context.Context, log zerolog.Logger, code string, cause error) error {
	msg := cause.Error()
	if err := p.repos.Sessions.UpdateStatus(ctx, code, persistence.StatusFailed, &msg); err != nil {
		log.Error().Err(err).Msg("could not record failure state")
	}
	if p.hooks.OnOutcome != nil {
		p.hooks.OnOutcome(persistence.StatusFailed)
	}
	return cause
}

// pipelineParams is the canonical parameter bundle bound into the cache
// key. Field order is fixed, so equal configs always hash equal.
type pipelineParamsV1 struct {
	HighPassCutoffHz    float64 `json:"highpass_cutoff_hz"`
	BandUpperCutoffHz   float64 `json:"band_upper_cutoff_hz"`
	LowPassCutoffHz     float64 `json:"lowpass_cutoff_hz"`
	FilterOrder         int     `json:"filter_order"`
	SmoothingWindowMs   float64 `json:"smoothing_window_ms"`
	ThresholdFactor     float64 `json:"threshold_factor"`
	MergeGapMs          float64 `json:"merge_gap_ms"`
	MinContractionMs    float64 `json:"min_contraction_ms"`
	MVCThresholdPct     float64 `json:"mvc_threshold_pct"`
	DurationThresholdMs float64 `json:"duration_threshold_ms"`
}

func (p *Processor) pipelineParams() pipelineParamsV1 {
	s := p.cfg.Signal
	return pipelineParamsV1{
		HighPassCutoffHz:    s.HighPassCutoffHz,
		BandUpperCutoffHz:   s.BandUpperCutoffHz,
		LowPassCutoffHz:     s.LowPassCutoffHz,
		FilterOrder:         s.FilterOrder,
		SmoothingWindowMs:   s.SmoothingWindowMs,
		ThresholdFactor:     s.ThresholdFactor,
		MergeGapMs:          s.MergeGapMs,
		MinContractionMs:    s.MinContractionMs,
		MVCThresholdPct:     s.MVCThresholdPct,
		DurationThresholdMs: s.DurationThresholdMs,
	}
}

// resolveScoringConfig walks the hierarchy: session-pinned, then
// patient-current, then global active, then built-in default.
func (p *Processor) resolveScoringConfig(ctx context.Context, sess *persistence.TherapySession) scoring.Configuration {
	if row, err := p.repos.ScoringConfigs.GetForSession(ctx, sess.ID); err == nil && row != nil {
		if cfg, ok := parseScoringRow(row); ok {
			return cfg
		}
	}
	if sess.PatientID != nil {
		if row, err := p.repos.ScoringConfigs.GetForPatient(ctx, *sess.PatientID); err == nil && row != nil {
			if cfg, ok := parseScoringRow(row); ok {
				return cfg
			}
		}
	}
	if row, err := p.repos.ScoringConfigs.GetGlobalActive(ctx); err == nil && row != nil {
		if cfg, ok := parseScoringRow(row); ok {
			return cfg
		}
	}
	return scoring.DefaultConfiguration()
}

func parseScoringRow(row *persistence.ScoringConfigRow) (scoring.Configuration, bool) {
	var cfg scoring.Configuration
	if err := json.Unmarshal(row.PayloadJSON, &cfg); err != nil {
		return scoring.Configuration{}, false
	}
	cfg.ID = row.ID
	cfg.Name = row.Name
	if err := cfg.Validate(); err != nil {
		return scoring.Configuration{}, false
	}
	return cfg, true
}

// analyze runs the full analysis on raw recording bytes.
func (p *Processor) analyze(code string, data []byte, scoringConfig scoring.Configuration,
	log zerolog.Logger) (*Analytics, error) {
	file, err := c3d.Read(data)
	if err != nil {
		return nil, err
	}
	if len(file.Channels) == 0 {
		return nil, &errs.C3DDecodeError{
			Section:  "data",
			Metadata: file.Metadata,
			Err:      errors.New("recording has no analog channels"),
		}
	}

	fs := file.Channels[0].SamplingRate
	sigCfg := p.cfg.Signal

	a := &Analytics{GameMeta: file.Metadata}
	a.Technical = technicalFrom(file, fs)
	a.Params = p.processingParamsRow(fs)
	a.Settings = persistence.SessionSettings{
		MVCThresholdPct:               sigCfg.MVCThresholdPct,
		DurationThresholdMs:           sigCfg.DurationThresholdMs,
		ExpectedContractionsPerMuscle: p.cfg.Scoring.ExpectedContractionsPerMuscle,
	}

	var left, right scoring.MuscleMetrics
	for i, ch := range file.Channels {
		result := signal.Process(ch.Name, ch.Samples, p.signalParams(ch.SamplingRate))
		if result.Err != nil {
			return nil, result.Err
		}
		for _, step := range result.Steps {
			if step.Warning != "" {
				a.Warnings = append(a.Warnings, ch.Name+": "+step.Warning)
				log.Warn().Str("channel", ch.Name).Str("stage", step.Name).Msg(step.Warning)
			}
		}

		analysis, err := contraction.Analyze(result.Signal, p.contractionParams(ch.SamplingRate, result.Signal))
		if err != nil {
			return nil, err
		}

		stats := buildChannelStats(ch.Name, result, analysis)
		contractionsJSON, _ := json.Marshal(analysis.Contractions)
		stats.ContractionsJSON = contractionsJSON

		a.Channels = append(a.Channels, ChannelAnalytics{
			Stats:        stats,
			Contractions: analysis.Contractions,
			Steps:        result.Steps,
		})

		m := scoring.MuscleMetrics{
			Total:             analysis.ContractionCount,
			MVCCompliant:      analysis.MVCCompliantCount,
			DurationCompliant: analysis.DurationCompliantCount,
		}
		if channelSide(ch.Name, i) == "left" {
			left = addMetrics(left, m)
		} else {
			right = addMetrics(right, m)
		}
	}

	a.BFR = bfrRows(file, a.Settings)
	for _, row := range a.BFR {
		if row.AppliedPressureAOP > 0 {
			a.Settings.BFREnabled = true
		}
	}

	a.Score = p.score(code, file.Metadata, left, right, a.BFR, scoringConfig, log)
	return a, nil
}

// score builds the metrics bundle and runs the engine. A scoring failure is
// non-fatal: the session completes without a score row.
func (p *Processor) score(code string, meta map[string]interface{}, left, right scoring.MuscleMetrics,
	bfr []persistence.BFRMonitoring, cfg scoring.Configuration, log zerolog.Logger) *scoring.ScoreResult {
	metrics := scoring.SessionMetrics{
		SessionCode:       code,
		Left:              left,
		Right:             right,
		ExpectedPerMuscle: p.cfg.Scoring.ExpectedContractionsPerMuscle,
		BFRCompliant:      bfrCompliant(bfr),
		RPE:               metaInt(meta, "rpe"),
		GamePointsAchieved: metaFloat(meta, "game_points_achieved"),
		GamePointsMax:      metaFloat(meta, "game_points_max"),
	}

	engine, err := scoring.NewEngine(cfg, p.cfg.Scoring.DefaultRPE)
	if err != nil {
		log.Warn().Err(err).Msg("scoring configuration rejected, session completes unscored")
		return nil
	}
	result, err := engine.Score(metrics)
	if err != nil {
		log.Warn().Err(err).Msg("scoring skipped")
		return nil
	}
	scoring.ClampRates(result)
	return result
}

// persistAnalytics replays the bundle against this session's rows. Session
// IDs inside the bundle are rewritten so a cache hit from another session
// lands on the right rows.
func (p *Processor) persistAnalytics(ctx context.Context, sess *persistence.TherapySession, a *Analytics) error {
	technical := a.Technical
	technical.SessionID = sess.ID
	if err := p.repos.Technical.Upsert(ctx, &technical); err != nil {
		return err
	}

	params := a.Params
	params.SessionID = sess.ID
	if err := p.repos.Params.Upsert(ctx, &params); err != nil {
		return err
	}

	stats := make([]persistence.EMGChannelStatistics, len(a.Channels))
	for i, ch := range a.Channels {
		stats[i] = ch.Stats
		stats[i].SessionID = sess.ID
		if len(stats[i].ContractionsJSON) == 0 {
			raw, err := json.Marshal(ch.Contractions)
			if err != nil {
				return err
			}
			stats[i].ContractionsJSON = raw
		}
	}
	if err := p.repos.Stats.ReplaceForSession(ctx, sess.ID, stats); err != nil {
		return err
	}

	if len(a.BFR) > 0 {
		rows := make([]persistence.BFRMonitoring, len(a.BFR))
		for i, row := range a.BFR {
			rows[i] = row
			rows[i].SessionID = sess.ID
		}
		if err := p.repos.BFR.ReplaceForSession(ctx, sess.ID, rows); err != nil {
			return err
		}
	}

	settings := a.Settings
	settings.SessionID = sess.ID
	if err := p.repos.Settings.Upsert(ctx, &settings); err != nil {
		return err
	}

	if a.Score != nil {
		if err := p.repos.Scores.Upsert(ctx, scoreRow(sess.ID, a.Score)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) signalParams(fs float64) signal.Params {
	s := p.cfg.Signal
	return signal.Params{
		SamplingRate:      fs,
		HighPassCutoffHz:  s.HighPassCutoffHz,
		LowPassCutoffHz:   s.LowPassCutoffHz,
		FilterOrder:       s.FilterOrder,
		SmoothingWindowMs: s.SmoothingWindowMs,
		Rectify:           true,
		Quality: signal.QualityThresholds{
			MinSamples:     s.MinSamples,
			MinStd:         s.MinStd,
			MinDurationSec: s.MinDurationSec,
			MaxDurationSec: s.MaxDurationSec,
		},
	}
}

// contractionParams derives detection parameters. The MVC amplitude
// threshold is the configured percentage of the envelope maximum.
func (p *Processor) contractionParams(fs float64, envelope []float64) contraction.Params {
	s := p.cfg.Signal
	params := contraction.Params{
		SamplingRate:    fs,
		ThresholdFactor: s.ThresholdFactor,
		MinDurationMs:   s.MinContractionMs,
		MergeGapMs:      s.MergeGapMs,
	}
	if s.MVCThresholdPct > 0 {
		peak := 0.0
		for _, v := range envelope {
			if v > peak {
				peak = v
			}
		}
		mvc := peak * s.MVCThresholdPct / 100
		params.MVCThreshold = &mvc
	}
	if s.DurationThresholdMs > 0 {
		d := s.DurationThresholdMs
		params.DurationThresholdMs = &d
	}
	return params
}

// processingParamsRow records the band actually applied, clamped below
// Nyquist for low-rate recordings.
func (p *Processor) processingParamsRow(fs float64) persistence.ProcessingParameters {
	s := p.cfg.Signal
	upper := s.BandUpperCutoffHz
	if nyquist := fs / 2; upper >= nyquist {
		upper = 0.9 * nyquist
	}
	return persistence.ProcessingParameters{
		FilterLowCutoffHz:    s.HighPassCutoffHz,
		FilterHighCutoffHz:   upper,
		FilterOrder:          s.FilterOrder,
		RMSWindowMs:          s.SmoothingWindowMs,
		RectificationApplied: true,
		MVCMethod:            "envelope_peak",
	}
}

func technicalFrom(file *c3d.File, fs float64) persistence.TechnicalMetadata {
	md := persistence.TechnicalMetadata{
		SamplingRateHz: fs,
		ChannelCount:   len(file.Channels),
	}
	for _, ch := range file.Channels {
		md.ChannelNames = append(md.ChannelNames, ch.Name)
	}
	if v, ok := file.Metadata["frame_count"].(int); ok {
		md.FrameCount = v
	}
	if v, ok := file.Metadata["duration_seconds"].(float64); ok {
		md.DurationSec = v
	} else if fs > 0 && len(file.Channels) > 0 {
		md.DurationSec = float64(len(file.Channels[0].Samples)) / fs
	}
	return md
}

func buildChannelStats(name string, result signal.Result, analysis *contraction.Analysis) persistence.EMGChannelStatistics {
	stats := persistence.EMGChannelStatistics{
		ChannelName:            name,
		ContractionCount:       analysis.ContractionCount,
		GoodContractionCount:   analysis.GoodContractionCount,
		MVCCompliantCount:      analysis.MVCCompliantCount,
		DurationCompliantCount: analysis.DurationCompliantCount,
		RMS:                    result.Spectral.RMS,
		MAV:                    result.Spectral.MAV,
		MPFHz:                  result.Spectral.MPFHz,
		MDFHz:                  result.Spectral.MDFHz,
		FatigueIndex:           result.Spectral.FatigueIndex,
	}

	if len(analysis.Contractions) > 0 {
		minDur, maxDur := math.Inf(1), math.Inf(-1)
		var sumDur, sumMean, maxAmp float64
		for _, c := range analysis.Contractions {
			sumDur += c.DurationMs
			sumMean += c.MeanAmplitude
			minDur = math.Min(minDur, c.DurationMs)
			maxDur = math.Max(maxDur, c.DurationMs)
			maxAmp = math.Max(maxAmp, c.MaxAmplitude)
		}
		n := float64(len(analysis.Contractions))
		stats.MeanDurationMs = sumDur / n
		stats.MinDurationMs = minDur
		stats.MaxDurationMs = maxDur
		stats.TotalTimeUnderTensionMs = sumDur
		stats.MeanAmplitude = sumMean / n
		stats.MaxAmplitude = maxAmp
	}
	return stats
}

// bfrRows derives blood-flow-restriction rows when the recording carries an
// applied pressure. The therapeutic window is 40 to 60 percent of arterial
// occlusion pressure.
func bfrRows(file *c3d.File, settings persistence.SessionSettings) []persistence.BFRMonitoring {
	pressure := metaFloat(file.Metadata, "bfr_pressure_aop")
	if pressure == nil {
		return nil
	}
	rows := make([]persistence.BFRMonitoring, len(file.Channels))
	for i, ch := range file.Channels {
		rows[i] = persistence.BFRMonitoring{
			ChannelName:        ch.Name,
			AppliedPressureAOP: *pressure,
			TargetMinAOP:       40,
			TargetMaxAOP:       60,
			Compliant:          *pressure >= 40 && *pressure <= 60,
		}
	}
	return rows
}

// bfrCompliant reports overall compliance: no BFR data counts as compliant
// since the restriction was not prescribed.
func bfrCompliant(rows []persistence.BFRMonitoring) bool {
	for _, row := range rows {
		if !row.Compliant {
			return false
		}
	}
	return true
}

func scoreRow(sessionID string, r *scoring.ScoreResult) *persistence.PerformanceScore {
	return &persistence.PerformanceScore{
		SessionID:             sessionID,
		OverallScore:          r.Overall,
		ComplianceScore:       r.Compliance,
		SymmetryScore:         r.Symmetry,
		EffortScore:           r.Effort,
		EffortSynthetic:       r.EffortSynthetic,
		GameScore:             r.Game,
		LeftMuscleCompliance:  r.Left.Compliance,
		RightMuscleCompliance: r.Right.Compliance,
		CompletionRateLeft:    r.Left.Completion,
		CompletionRateRight:   r.Right.Completion,
		IntensityRateLeft:     r.Left.Intensity,
		IntensityRateRight:    r.Right.Intensity,
		DurationRateLeft:      r.Left.Duration,
		DurationRateRight:     r.Right.Duration,
		BFRCompliant:          r.BFRCompliant,
		RPE:                   r.RPE,
		ScoringConfigID:       r.ConfigID,
	}
}

func addMetrics(a, b scoring.MuscleMetrics) scoring.MuscleMetrics {
	return scoring.MuscleMetrics{
		Total:             a.Total + b.Total,
		MVCCompliant:      a.MVCCompliant + b.MVCCompliant,
		DurationCompliant: a.DurationCompliant + b.DurationCompliant,
	}
}

func metaFloat(meta map[string]interface{}, key string) *float64 {
	if v, ok := meta[key].(float64); ok {
		return &v
	}
	return nil
}

func metaInt(meta map[string]interface{}, key string) *int {
	if v, ok := meta[key].(float64); ok {
		i := int(math.Round(v))
		return &i
	}
	return nil
}
