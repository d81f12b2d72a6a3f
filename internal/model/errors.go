// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 同期処理のエラー分類。errors.Isで判定する。
var (
	// ErrIncompleteRecord は期限フィールドが存在しない外部レコード。スキップ対象でありエラーではない。
	ErrIncompleteRecord = errors.New("incomplete record: no deadline field")
	// ErrUnparsableDeadline は期限を解析できない外部レコード。スキップ対象でありエラーではない。
	ErrUnparsableDeadline = errors.New("unparsable deadline")
	// ErrCollaboratorUnavailable は外部プラットフォームまたはストレージの呼び出し失敗。
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrAuthenticationExpired は外部プラットフォームのセッションが無効になったことを示す。
	ErrAuthenticationExpired = errors.New("authentication expired")
	// ErrLedgerVersionConflict は成績台帳の書き込み競合（バージョン不一致）。
	ErrLedgerVersionConflict = errors.New("ledger version conflict")
	// ErrConflictAlreadyResolved は解決済みの競合に対する再解決。
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, conflict, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConflictNotFound        = "CONFLICT_NOT_FOUND"
	ErrCodeConflictAlreadyResolved = "CONFLICT_ALREADY_RESOLVED"
	ErrCodeInvalidResolution       = "INVALID_RESOLUTION"
	ErrCodeAssignmentNotFound      = "ASSIGNMENT_NOT_FOUND"
	ErrCodeSyncInProgress          = "SYNC_IN_PROGRESS"
	ErrCodeExternalAlreadyTracked  = "EXTERNAL_ALREADY_TRACKED"
)

// NewConflictNotFoundError は競合未検出エラーを生成する。
func NewConflictNotFoundError(conflictID string) *APIError {
	return &APIError{
		Code:     ErrCodeConflictNotFound,
		Message:  fmt.Sprintf("指定された競合が見つかりません: %s", conflictID),
		Category: "conflict",
		Action:   "競合IDを確認してください。",
	}
}

// NewConflictAlreadyResolvedError は解決済みの競合を再度解決しようとした場合のエラーを生成する。
func NewConflictAlreadyResolvedError(conflictID string) *APIError {
	return &APIError{
		Code:     ErrCodeConflictAlreadyResolved,
		Message:  fmt.Sprintf("この競合は既に解決されています: %s", conflictID),
		Category: "conflict",
		Action:   "未解決の競合一覧を再読み込みしてください。",
	}
}

// NewInvalidResolutionError は無効な解決方法エラーを生成する。
func NewInvalidResolutionError(resolution string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidResolution,
		Message:  fmt.Sprintf("無効な解決方法です: %s", resolution),
		Category: "validation",
		Action:   "解決方法には keep_manual、use_external、keep_both のいずれかを指定してください。",
	}
}

// NewAssignmentNotFoundError は競合が参照する課題が存在しない場合のエラーを生成する。
func NewAssignmentNotFoundError(assignmentID string) *APIError {
	return &APIError{
		Code:     ErrCodeAssignmentNotFound,
		Message:  fmt.Sprintf("指定された課題が見つかりません: %s", assignmentID),
		Category: "conflict",
		Action:   "課題が削除されていないか確認してください。",
	}
}

// NewSyncInProgressError は同期が実行中の場合のエラーを生成する。
func NewSyncInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  "別の同期処理が実行中です。",
		Category: "sync",
		Action:   "同期の完了を待ってから再度お試しください。",
	}
}

// NewExternalAlreadyTrackedError は外部課題が既に別の課題として登録済みの場合のエラーを生成する。
func NewExternalAlreadyTrackedError(externalID, assignmentID string) *APIError {
	return &APIError{
		Code:     ErrCodeExternalAlreadyTracked,
		Message:  fmt.Sprintf("外部課題 %s は既に課題 %s として登録されています。", externalID, assignmentID),
		Category: "conflict",
		Action:   "keep_manual を指定して競合を解決してください。",
	}
}
