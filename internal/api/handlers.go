package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/alexdev-tb/prescription-pdf/internal/executor"
	"github.com/alexdev-tb/prescription-pdf/internal/prescription"
	"github.com/alexdev-tb/prescription-pdf/internal/slots"
	"github.com/alexdev-tb/prescription-pdf/pkg/apperror"
)

// Executor runs render jobs and reports pool state.
type Executor interface {
	Run(ctx context.Context, job executor.Job) (executor.Result, error)
	Stats() slots.Stats
	AverageCompile() time.Duration
	Timeout() time.Duration
}

// Prober reports the last compiler availability check.
type Prober interface {
	LastProbe() executor.ProbeResult
}

type Handler struct {
	exec    Executor
	store   executor.OutcomeStore
	prober  Prober
	maxBody int64
	started time.Time
	log     zerolog.Logger
}

type MemoryStats struct {
	Alloc     uint64 `json:"alloc"`
	Sys       uint64 `json:"sys"`
	HeapInuse uint64 `json:"heapInuse"`
	NumGC     uint32 `json:"numGC"`
}

type StatusResponse struct {
	Status        string                    `json:"status"`
	Uptime        string                    `json:"uptime"`
	UptimeSeconds int64                     `json:"uptimeSeconds"`
	Memory        MemoryStats               `json:"memory"`
	Goroutines    int                       `json:"goroutines"`
	Compilations  slots.Stats               `json:"compilations"`
	Compiler      executor.ProbeResult      `json:"compiler"`
	AvgCompileMs  int64                     `json:"avgCompileMs"`
	TimeoutMs     int64                     `json:"compileTimeoutMs"`
	Jobs          map[executor.Status]int64 `json:"jobs,omitempty"`
}

const defaultMaxBody = 1 << 20

// responseWriteSlack is the time left for writing the PDF after the compile
// deadline.
const responseWriteSlack = 30 * time.Second

func NewHandler(exec Executor, store executor.OutcomeStore, prober Prober, maxBody int64, log zerolog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Handler{
		exec:    exec,
		store:   store,
		prober:  prober,
		maxBody: maxBody,
		started: time.Now(),
		log:     log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// RenderPrescription validates the form, runs one compilation and streams
// the PDF back.
func (h *Handler) RenderPrescription(w http.ResponseWriter, r *http.Request) {
	jobID := JobIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var form prescription.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, apperror.New(http.StatusRequestEntityTooLarge, apperror.CodePayloadTooBig,
				fmt.Sprintf("request body exceeds %d bytes", h.maxBody)))
			return
		}
		writeError(w, r, apperror.Validation("", "invalid JSON payload"))
		return
	}

	rec, err := prescription.Parse(form)
	if err != nil {
		var vErr *prescription.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, r, apperror.Validation(vErr.Field, vErr.Error()))
			return
		}
		writeError(w, r, apperror.Internal(err))
		return
	}

	// The server's write timeout started counting when the request arrived,
	// so time spent queued for a slot would eat into it. Restart the clock
	// once the job is admitted.
	rc := http.NewResponseController(w)
	admitted := func() {
		deadline := time.Now().Add(h.exec.Timeout() + responseWriteSlack)
		if err := rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("extend write deadline")
		}
	}

	res, err := h.exec.Run(r.Context(), executor.Job{ID: jobID, Record: rec, Admitted: admitted})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.PDF)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="prescription-%s.pdf"`, res.JobID))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.PDF); err != nil {
		h.log.Warn().Err(err).Str("job_id", res.JobID).Msg("write pdf response")
	}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(h.started)
	resp := StatusResponse{
		Status:        "ok",
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Memory: MemoryStats{
			Alloc:     mem.Alloc,
			Sys:       mem.Sys,
			HeapInuse: mem.HeapInuse,
			NumGC:     mem.NumGC,
		},
		Goroutines:   runtime.NumGoroutine(),
		Compilations: h.exec.Stats(),
		AvgCompileMs: h.exec.AverageCompile().Milliseconds(),
		TimeoutMs:    h.exec.Timeout().Milliseconds(),
	}
	if h.prober != nil {
		resp.Compiler = h.prober.LastProbe()
		if !resp.Compiler.Available && !resp.Compiler.CheckedAt.IsZero() {
			resp.Status = "degraded"
		}
	}
	if h.store != nil {
		counts, err := h.store.Counts(r.Context())
		if err != nil {
			h.log.Warn().Err(err).Msg("load job counts")
		} else {
			resp.Jobs = counts
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, r, apperror.NotFound("job not found"))
		return
	}

	id := chi.URLParam(r, "id")
	outcome, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, executor.ErrJobNotFound) {
			writeError(w, r, apperror.NotFound("job not found"))
			return
		}
		writeError(w, r, apperror.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writeError renders err as the JSON failure body. Errors that are not an
// *apperror.AppError are reported as internal errors without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal(err)
	}
	if appErr.JobID == "" {
		if id := JobIDFromContext(r.Context()); id != "" {
			appErr = appErr.WithJob(id)
		}
	}
	if appErr.Status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", appErr.Code).Msg("request failed")
	}
	writeJSON(w, appErr.Status, appErr)
}
