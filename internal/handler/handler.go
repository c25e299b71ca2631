package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/recitation/internal/bank"
	appI18n "github.com/pavelanni/recitation/internal/i18n"
	"github.com/pavelanni/recitation/internal/model"
	"github.com/pavelanni/recitation/internal/pipeline"
	"github.com/pavelanni/recitation/internal/store"
)

const maxListLimit = 500

var audioExtRegex = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	pool   *pipeline.Pool
	bank   *bank.Bank
	config model.EvalConfig
}

// New creates a new Handler.
func New(s *store.Store, p *pipeline.Pool, b *bank.Bank, cfg model.EvalConfig) (*Handler, error) {
	if cfg.AudioDir != "" {
		if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
			return nil, fmt.Errorf("create audio dir: %w", err)
		}
	}
	return &Handler{store: s, pool: p, bank: b, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		r.Post("/evaluate/session", h.handleSubmit)
		r.Post("/evaluate/upload", h.handleUpload)
		r.Get("/evaluate/tasks", h.handleListTasks)
		r.Get("/evaluate/task/{taskID}", h.handleGetTask)
		r.Get("/evaluate/task/{taskID}/review", h.handleGetReview)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Put("/evaluate/task/{taskID}/review", h.handleSaveReview)
			r.Post("/evaluate/export", h.handleExport)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(requireRole(model.UserRoleAdmin))
			r.Post("/admin/users", h.handleCreateUser)
		})
	})
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type taskResponse struct {
	TaskID string           `json:"task_id"`
	Status model.TaskStatus `json:"status"`
	Result json.RawMessage  `json:"result"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (h *Handler) invalid(w http.ResponseWriter, r *http.Request, status int, reason string) {
	writeError(w, status, appI18n.Td(r.Context(), "InvalidRequest", map[string]any{"Reason": reason}))
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "InternalError"))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"units":  len(h.bank.Units()),
		"queued": h.pool.Queued(),
	})
}

type submitRequest struct {
	StudentID    string `json:"student_id"`
	UnitID       string `json:"unit_id"`
	SessionIndex *int   `json:"session_index"`
	AudioPath    string `json:"audio_path"`
}

func (req submitRequest) missing() []string {
	var fields []string
	if strings.TrimSpace(req.StudentID) == "" {
		fields = append(fields, "student_id")
	}
	if strings.TrimSpace(req.UnitID) == "" {
		fields = append(fields, "unit_id")
	}
	if req.SessionIndex == nil {
		fields = append(fields, "session_index")
	}
	if strings.TrimSpace(req.AudioPath) == "" {
		fields = append(fields, "audio_path")
	}
	return fields
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.invalid(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if missing := req.missing(); len(missing) > 0 {
		h.invalid(w, r, http.StatusUnprocessableEntity, "missing "+strings.Join(missing, ", "))
		return
	}

	h.submit(w, r, model.EvaluationRequest{
		StudentID:    strings.TrimSpace(req.StudentID),
		UnitID:       strings.TrimSpace(req.UnitID),
		SessionIndex: *req.SessionIndex,
		AudioPath:    req.AudioPath,
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, req model.EvaluationRequest) {
	task, err := h.pool.Submit(req)
	if err != nil {
		h.internalError(w, r, "failed to submit evaluation", err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: task.ID})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.config.AudioDir == "" {
		writeError(w, http.StatusNotImplemented, appI18n.Td(r.Context(), "InvalidRequest",
			map[string]any{"Reason": "uploads are disabled"}))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.invalid(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		h.invalid(w, r, http.StatusBadRequest, err.Error())
		return
	}

	studentID := strings.TrimSpace(r.FormValue("student_id"))
	unitID := strings.TrimSpace(r.FormValue("unit_id"))
	sessionIndex, err := strconv.Atoi(strings.TrimSpace(r.FormValue("session_index")))
	if studentID == "" || unitID == "" || err != nil {
		h.invalid(w, r, http.StatusUnprocessableEntity, "student_id, unit_id and an integer session_index are required")
		return
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		h.invalid(w, r, http.StatusUnprocessableEntity, "no audio_file uploaded")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !audioExtRegex.MatchString(ext) {
		ext = ".bin"
	}
	path := filepath.Join(h.config.AudioDir, uuid.NewString()+ext)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		h.internalError(w, r, "failed to create audio file", err)
		return
	}
	n, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		h.internalError(w, r, "failed to store audio file", err)
		return
	}
	slog.Info("stored uploaded recording", "student_id", studentID, "filename", header.Filename, "path", path, "bytes", n)

	h.submit(w, r, model.EvaluationRequest{
		StudentID:    studentID,
		UnitID:       unitID,
		SessionIndex: sessionIndex,
		AudioPath:    path,
	})
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetTask(chi.URLParam(r, "taskID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "TaskNotFound"))
		return
	}
	if err != nil {
		h.internalError(w, r, "failed to get task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{TaskID: task.ID, Status: task.Status, Result: task.Result})
}

func parseTaskFilter(r *http.Request) (model.TaskFilter, error) {
	q := r.URL.Query()
	f := model.TaskFilter{
		StudentID: q.Get("student_id"),
		UnitID:    q.Get("unit_id"),
		Limit:     100,
	}
	if s := q.Get("status"); s != "" {
		st, err := model.ParseTaskStatus(strings.ToUpper(s))
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid limit %q", l)
		}
		f.Limit = min(n, maxListLimit)
	}
	return f, nil
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f, err := parseTaskFilter(r)
	if err != nil {
		h.invalid(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := h.store.ListTasks(f)
	if err != nil {
		h.internalError(w, r, "failed to list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type reviewRequest struct {
	FinalGrade     model.Grade `json:"final_grade"`
	TeacherComment string      `json:"teacher_comment"`
}

func (h *Handler) handleSaveReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.invalid(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.FinalGrade = model.Grade(strings.ToUpper(strings.TrimSpace(string(req.FinalGrade))))
	if !req.FinalGrade.Valid() {
		h.invalid(w, r, http.StatusUnprocessableEntity, "final_grade must be A, B or C")
		return
	}

	user := model.UserFromContext(r.Context())
	review, err := h.store.SaveReview(model.TeacherReview{
		TaskID:         chi.URLParam(r, "taskID"),
		FinalGrade:     req.FinalGrade,
		TeacherComment: strings.TrimSpace(req.TeacherComment),
		ReviewedBy:     user.Username,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "TaskNotFound"))
		return
	case errors.Is(err, store.ErrNotReviewable):
		writeError(w, http.StatusConflict, appI18n.T(r.Context(), "NotReviewable"))
		return
	case err != nil:
		h.internalError(w, r, "failed to save review", err)
		return
	}

	slog.Info("teacher review saved", "task_id", review.TaskID, "grade", review.FinalGrade, "reviewer", review.ReviewedBy)
	writeJSON(w, http.StatusOK, review)
}

func (h *Handler) handleGetReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.store.GetReview(chi.URLParam(r, "taskID"))
	if err != nil {
		h.internalError(w, r, "failed to get review", err)
		return
	}
	if review == nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "ReviewNotFound"))
		return
	}
	writeJSON(w, http.StatusOK, review)
}

// exportRequest is the optional JSON body of an export. Fields that are set
// override the matching query parameters.
type exportRequest struct {
	TaskIDs   []string `json:"task_ids"`
	Status    string   `json:"status"`
	StudentID string   `json:"student_id"`
	UnitID    string   `json:"unit_id"`
	Limit     *int     `json:"limit"`
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := parseTaskFilter(r)
	if err != nil {
		h.invalid(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if r.URL.Query().Get("limit") == "" {
		f.Limit = 0
	}

	var req exportRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.invalid(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.apply(&f); err != nil {
		h.invalid(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	results, err := h.store.ExportTasks(f)
	if err != nil {
		h.internalError(w, r, "failed to export tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, model.TaskExport{
		ExportedAt: time.Now().UTC(),
		NumTasks:   len(results),
		Results:    results,
	})
}

func (req exportRequest) apply(f *model.TaskFilter) error {
	if req.Status != "" {
		st, err := model.ParseTaskStatus(strings.ToUpper(req.Status))
		if err != nil {
			return err
		}
		f.Status = st
	}
	if req.StudentID != "" {
		f.StudentID = req.StudentID
	}
	if req.UnitID != "" {
		f.UnitID = req.UnitID
	}
	if len(req.TaskIDs) > 0 {
		f.TaskIDs = req.TaskIDs
	}
	if req.Limit != nil {
		if *req.Limit < 1 {
			return fmt.Errorf("invalid limit %d", *req.Limit)
		}
		f.Limit = *req.Limit
	}
	return nil
}
