package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/coursesync/internal/conflict"
	"github.com/hitoshi/coursesync/internal/middleware"
	"github.com/hitoshi/coursesync/internal/model"
)

// ConflictServiceInterface は競合ハンドラーが必要とするサービスインターフェース。
type ConflictServiceInterface interface {
	// ListUnresolved はユーザーの未解決の競合を新しい順に返す。
	ListUnresolved(ctx context.Context, userID string) ([]*model.Conflict, error)
	// CountUnresolved はユーザーの未解決の競合数を返す。
	CountUnresolved(ctx context.Context, userID string) (int, error)
	// Resolve は競合を解決し、解決後の競合を返す。
	Resolve(ctx context.Context, userID, conflictID string, resolution model.ConflictResolution) (*model.Conflict, error)
}

// ConflictHandler は競合管理のHTTPハンドラー。
type ConflictHandler struct {
	service ConflictServiceInterface
}

// NewConflictHandler はConflictHandlerを生成する。
func NewConflictHandler(service ConflictServiceInterface) *ConflictHandler {
	return &ConflictHandler{
		service: service,
	}
}

// conflictResponse は競合情報のAPIレスポンス。
type conflictResponse struct {
	ID                 string                    `json:"id"`
	UserID             string                    `json:"user_id"`
	ManualAssignmentID string                    `json:"manual_assignment_id"`
	External           model.ExternalSnapshot    `json:"external"`
	Resolved           bool                      `json:"resolved"`
	Resolution         *model.ConflictResolution `json:"resolution,omitempty"`
	ResolvedAt         *time.Time                `json:"resolved_at,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
}

// conflictCountResponse は未解決件数のAPIレスポンス。
type conflictCountResponse struct {
	Count int `json:"count"`
}

// resolveConflictRequest は競合解決リクエストのボディ。
type resolveConflictRequest struct {
	Resolution string `json:"resolution"`
}

// ListConflicts は未解決の競合一覧を取得する。
// GET /api/users/{userID}/conflicts
func (h *ConflictHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	conflicts, err := h.service.ListUnresolved(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]conflictResponse, 0, len(conflicts))
	for _, c := range conflicts {
		resp = append(resp, toConflictResponse(c))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// CountConflicts は未解決の競合数を取得する。
// GET /api/users/{userID}/conflicts/count
func (h *ConflictHandler) CountConflicts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	count, err := h.service.CountUnresolved(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, conflictCountResponse{Count: count})
}

// ResolveConflict は競合を解決する。
// POST /api/users/{userID}/conflicts/{id}/resolve
func (h *ConflictHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	conflictID := chi.URLParam(r, "id")

	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	resolved, err := h.service.Resolve(r.Context(), userID, conflictID, model.ConflictResolution(req.Resolution))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toConflictResponse(resolved))
}

func toConflictResponse(c *model.Conflict) conflictResponse {
	return conflictResponse{
		ID:                 c.ID,
		UserID:             c.UserID,
		ManualAssignmentID: c.ManualAssignmentID,
		External:           conflict.Snapshot(c),
		Resolved:           c.Resolved,
		Resolution:         c.Resolution,
		ResolvedAt:         c.ResolvedAt,
		CreatedAt:          c.CreatedAt,
	}
}
