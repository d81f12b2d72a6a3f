package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/coursesync/internal/model"
)

// ErrorResponseBody はAPIエラーのJSON表現。model.APIErrorの各フィールドをそのまま返す。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

var (
	errUnauthorized = model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "Authorizationヘッダーに正しいAPIトークンを指定してください。",
	}
	errRateLimited = model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
	errInternal = model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
)

// WriteErrorResponse はAPIErrorを指定ステータスで書き込む。
// apiErrがnilの場合は内部エラーとして扱う。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		WriteInternalServerError(w)
		return
	}
	WriteJSON(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は500を書き込む。原因はログにのみ残し、レスポンスには含めない。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &errInternal)
}

// WriteUnauthorized はAPIトークン不一致の401を書き込む。
func WriteUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, &errUnauthorized)
}

// WriteTooManyRequests は429を書き込む。Retry-Afterは秒単位に切り上げ、最低1秒とする。
func WriteTooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	sec := max(int(math.Ceil(retryAfter.Seconds())), 1)
	w.Header().Set("Retry-After", strconv.Itoa(sec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &errRateLimited)
}

// WriteJSON は任意の値をJSONレスポンスとして書き込む。
// ヘッダー送信後のエンコード失敗はクライアント切断とみなしてDebugで記録する。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("レスポンスの書き込みに失敗しました",
			slog.Int("status", statusCode),
			slog.String("error", err.Error()),
		)
	}
}
