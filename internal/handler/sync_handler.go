package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/coursesync/internal/middleware"
	"github.com/hitoshi/coursesync/internal/model"
	"github.com/hitoshi/coursesync/internal/worker/syncer"
)

// SyncHandler は同期処理の手動実行を受け付けるHTTPハンドラー。
type SyncHandler struct {
	runner syncer.Runner
}

// NewSyncHandler はSyncHandlerを生成する。
// runnerには排他制御付きのRunner（syncer.ExclusiveRunner）を渡す。
func NewSyncHandler(runner syncer.Runner) *SyncHandler {
	return &SyncHandler{runner: runner}
}

// syncResponse は同期結果のAPIレスポンス。
type syncResponse struct {
	UsersProcessed     int      `json:"users_processed"`
	UsersSkipped       int      `json:"users_skipped"`
	AssignmentsCreated int      `json:"assignments_created"`
	AssignmentsUpdated int      `json:"assignments_updated"`
	ConflictsCreated   int      `json:"conflicts_created"`
	GradesMerged       int      `json:"grades_merged"`
	ErrorCount         int      `json:"error_count"`
	Errors             []string `json:"errors"`
}

// TriggerSync は同期処理を1回実行し、その結果を返す。
// POST /api/sync
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	// クライアントの切断で同期が途中終了しないよう、キャンセルを伝播させない
	ctx := context.WithoutCancel(r.Context())

	summary, err := h.runner.Run(ctx)
	if err != nil {
		if errors.Is(err, syncer.ErrRunInProgress) {
			handleServiceError(w, model.NewSyncInProgressError())
			return
		}
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toSyncResponse(summary))
}

func toSyncResponse(s syncer.Summary) syncResponse {
	errs := s.Errors
	if errs == nil {
		errs = []string{}
	}
	return syncResponse{
		UsersProcessed:     s.UsersProcessed,
		UsersSkipped:       s.UsersSkipped,
		AssignmentsCreated: s.AssignmentsCreated,
		AssignmentsUpdated: s.AssignmentsUpdated,
		ConflictsCreated:   s.ConflictsCreated,
		GradesMerged:       s.GradesMerged,
		ErrorCount:         s.ErrorCount,
		Errors:             errs,
	}
}
