package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/emgflow/emgflow/internal/errs"
	"github.com/emgflow/emgflow/internal/scoring"
	"github.com/emgflow/emgflow/internal/session"
	"github.com/emgflow/emgflow/internal/webhook"
)

// maxWebhookBody caps the intake payload size.
const maxWebhookBody = 1 << 20

// SessionService is the processor surface the handlers consume.
type SessionService interface {
	HandleUpload(ctx context.Context, bucket, objectPath string) (*session.IntakeResult, error)
	Status(ctx context.Context, code string) (*session.StatusReport, error)
	Reprocess(ctx context.Context, code string) error
	Adherence(ctx context.Context, patientCode string, plannedTotal, trialLengthDays, protocolDay int) (*scoring.Adherence, error)
}

// Handlers hold the endpoint implementations and their dependencies.
type Handlers struct {
	processor      SessionService
	verifier       *webhook.Verifier
	deduper        *webhook.Deduper
	expectedBucket string
	responseBudget time.Duration
	metrics        *MetricsRegistry
	health         *HealthChecker
	log            zerolog.Logger
}

// NewHandlers wires the endpoint handlers.
func NewHandlers(processor SessionService, verifier *webhook.Verifier, deduper *webhook.Deduper,
	expectedBucket string, responseBudget time.Duration, metrics *MetricsRegistry,
	health *HealthChecker, log zerolog.Logger) *Handlers {
	if responseBudget <= 0 {
		responseBudget = time.Second
	}
	return &Handlers{
		processor:      processor,
		verifier:       verifier,
		deduper:        deduper,
		expectedBucket: expectedBucket,
		responseBudget: responseBudget,
		metrics:        metrics,
		health:         health,
		log:            log.With().Str("component", "http").Logger(),
	}
}

// webhookResponse is the intake answer envelope. processing_time_ms
// measures the handler's own fast path, not the background analysis.
type webhookResponse struct {
	Success          bool    `json:"success"`
	Message          string  `json:"message"`
	SessionCode      string  `json:"session_code,omitempty"`
	SessionID        string  `json:"session_id,omitempty"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Upload is the storage webhook intake. It verifies, filters, dedups, and
// creates the pending session inside the response budget; all heavy work is
// queued.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	respond := func(status int, resp webhookResponse) {
		resp.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
		writeJSON(w, status, resp)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.count("error")
		respond(http.StatusBadRequest, webhookResponse{Message: "unreadable request body"})
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Signature")
	}
	if err := h.verifier.Verify(body, signature); err != nil {
		var sigErr *errs.SignatureError
		if errors.As(err, &sigErr) {
			h.count("unauthorized")
			respond(http.StatusUnauthorized, webhookResponse{Message: "invalid webhook signature"})
			return
		}
		h.count("error")
		respond(http.StatusInternalServerError, webhookResponse{Message: "signature verification failed"})
		return
	}

	event, err := webhook.ParseEvent(body)
	if err != nil {
		h.count("malformed")
		respond(http.StatusBadRequest, webhookResponse{Message: err.Error()})
		return
	}

	if result := event.Filter(h.expectedBucket); !result.Accepted {
		h.count("ignored")
		respond(http.StatusOK, webhookResponse{
			Success: true,
			Message: "Ignored: " + result.Reason,
		})
		return
	}

	if code, dup := h.deduper.Seen(event.Record.BucketID, event.Record.Name, event.ETag()); dup {
		h.count("duplicate")
		respond(http.StatusOK, webhookResponse{
			Success:     true,
			Message:     "duplicate delivery, session already created",
			SessionCode: code,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.responseBudget)
	defer cancel()

	intake, err := h.processor.HandleUpload(ctx, event.Record.BucketID, event.Record.Name)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			// The budget expired; the intake may still land in the
			// background, and the storage provider will redeliver.
			h.count("timeout")
			respond(http.StatusOK, webhookResponse{Message: "intake exceeded the response budget"})
			return
		}
		h.count("error")
		h.log.Error().Err(err).Str("object", event.Record.Name).Msg("intake failed")
		respond(http.StatusInternalServerError, webhookResponse{Message: "session intake failed"})
		return
	}

	h.deduper.Record(event.Record.BucketID, event.Record.Name, event.ETag(), intake.SessionCode)

	message := "session created"
	if !intake.Queued {
		message = "session created, processing queue full, left pending"
	}
	h.count("accepted")
	respond(http.StatusOK, webhookResponse{
		Success:     true,
		Message:     message,
		SessionCode: intake.SessionCode,
		SessionID:   intake.SessionID,
	})
}

// Status reports a session's lifecycle state and, when completed, its score
// and channel statistics.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["session_code"]
	if _, _, err := session.ParseCode(code); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.processor.Status(r.Context(), code)
	if err != nil {
		var notFound *errs.SessionNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error().Err(err).Str("session", code).Msg("status lookup failed")
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Reprocess requeues a completed session through the pipeline with a fresh
// computation.
func (h *Handlers) Reprocess(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["session_code"]
	if _, _, err := session.ParseCode(code); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.processor.Reprocess(r.Context(), code); err != nil {
		var notFound *errs.SessionNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_code": code,
		"status":       "reprocessing",
	})
}

// Adherence reports protocol adherence for a patient. The protocol
// parameters come from the query string since treatment plans live outside
// this service; completed sessions are counted from the store.
func (h *Handlers) Adherence(w http.ResponseWriter, r *http.Request) {
	patientCode := mux.Vars(r)["patient_code"]

	planned, err := queryInt(r, "planned_sessions")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trialDays, err := queryInt(r, "trial_length_days")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	day, err := queryInt(r, "protocol_day")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.processor.Adherence(r.Context(), patientCode, planned, trialDays, day)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be an integer", name)
	}
	return v, nil
}

// NotFound is the JSON 404 handler.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (h *Handlers) count(result string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(result).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
