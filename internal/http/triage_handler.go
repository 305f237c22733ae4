package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"swasthai-triage/internal/lifecycle"
	"swasthai-triage/internal/models"
	"swasthai-triage/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// TriageHandler 分诊 API
type TriageHandler struct {
	svc    *service.TriageService
	logger *zap.Logger
}

// NewTriageHandler 创建分诊处理器
func NewTriageHandler(svc *service.TriageService, logger *zap.Logger) *TriageHandler {
	return &TriageHandler{svc: svc, logger: logger}
}

// TriageResponse POST /api/v1/triage 的结果
type TriageResponse struct {
	TriageID    string          `json:"triage_id"`
	Band        models.RiskBand `json:"band"`
	Reason      string          `json:"reason"`
	Action      string          `json:"action"`
	Explanation string          `json:"explanation"`
	UIColor     string          `json:"ui_color"`
	Saved       bool            `json:"saved"`
}

// ValidationDetails 校验失败明细
type ValidationDetails struct {
	Details models.ValidationErrors `json:"details"`
}

// Submit POST /api/v1/triage
// 201 已保存；202 已分类但未保存（稍后重试保存）；400 校验失败
func (h *TriageHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	res, err := h.svc.Submit(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}

	c := res.Event.Classification
	resp := TriageResponse{
		TriageID:    res.Event.ID,
		Band:        c.Band,
		Reason:      c.Reason,
		Action:      c.Action,
		Explanation: c.Explanation,
		UIColor:     c.Color,
		Saved:       res.Saved,
	}
	status := http.StatusCreated
	if !res.Saved {
		status = http.StatusAccepted
	}
	writeJSON(w, status, Ok(resp))
}

// Queue GET /api/v1/queue
func (h *TriageHandler) Queue(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Queue(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// GetEvent GET /api/v1/intake-events/{id}
func (h *TriageHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(ev))
}

// OverrideRequest 改判请求
type OverrideRequest struct {
	Band   string `json:"band"`
	Reason string `json:"reason"`
}

// Override POST /api/v1/intake-events/{id}/override
func (h *TriageHandler) Override(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	ev, err := h.svc.Override(r.Context(), chi.URLParam(r, "id"), req.Band, req.Reason, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(ev))
}

// MarkSeen POST /api/v1/intake-events/{id}/seen（幂等）
func (h *TriageHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	ev, err := h.svc.MarkSeen(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(ev))
}

// ComplaintOption 主诉选项
type ComplaintOption struct {
	Code  models.Complaint `json:"code"`
	Label string           `json:"label"`
}

// Complaints GET /api/v1/complaints
func (h *TriageHandler) Complaints(w http.ResponseWriter, r *http.Request) {
	out := make([]ComplaintOption, 0, len(models.Complaints))
	for _, c := range models.Complaints {
		out = append(out, ComplaintOption{Code: c, Label: c.Label()})
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

// OverrideReasons GET /api/v1/override-reasons
func (h *TriageHandler) OverrideReasons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(lifecycle.SuggestedOverrideReasons))
}

// Rules GET /api/v1/rules 按优先级列出分诊规则
func (h *TriageHandler) Rules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.svc.Engine().Rules()))
}

// Export GET /api/v1/queue/export.xlsx?since=RFC3339（默认最近 24 小时）
func (h *TriageHandler) Export(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, FailWith("validation failed", ValidationDetails{
				Details: models.ValidationErrors{{Field: "since", Message: "must be an RFC3339 timestamp"}},
			}))
			return
		}
		since = t
	}

	data, err := h.svc.Export(r.Context(), since)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=triage-queue.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeError 错误类型 -> HTTP 状态码
func (h *TriageHandler) writeError(w http.ResponseWriter, err error) {
	var verrs models.ValidationErrors
	var ste *models.StateTransitionError
	var ce *models.ClassificationError

	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, FailWith("validation failed", ValidationDetails{Details: verrs}))
	case errors.As(err, &ste):
		writeJSON(w, http.StatusConflict, Fail(ste.Error()))
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, Fail("intake event not found"))
	case errors.Is(err, models.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, Fail("event store unavailable, retry later"))
	case errors.As(err, &ce):
		h.logger.Error("Classification failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("classification failed"))
	default:
		h.logger.Error("Unhandled triage error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}
