package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/coursesync/internal/middleware"
	"github.com/hitoshi/coursesync/internal/model"
)

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeConflictNotFound, model.ErrCodeAssignmentNotFound:
		return http.StatusNotFound
	case model.ErrCodeConflictAlreadyResolved, model.ErrCodeSyncInProgress, model.ErrCodeExternalAlreadyTracked:
		return http.StatusConflict
	case model.ErrCodeInvalidResolution:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
