// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/coursesync/internal/model"
)

// AssignmentRepository は課題データの永続化インターフェース。
// 同期処理は作成と部分更新のみを行い、削除はしない。
type AssignmentRepository interface {
	// ListByUser はユーザーの全課題を作成日時の昇順で取得する。
	ListByUser(ctx context.Context, userID string) ([]*model.Assignment, error)

	// FindByID は指定IDの課題を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Assignment, error)

	// Create は課題を作成する。IDとタイムスタンプは呼び出し側で設定する。
	Create(ctx context.Context, assignment *model.Assignment) error

	// Update は非nilのフィールドのみを更新する。
	Update(ctx context.Context, id string, update model.AssignmentUpdate) error
}

// CourseRepository はコースデータの永続化インターフェース。
type CourseRepository interface {
	// ListByUser はユーザーの全コースを作成日時の昇順で取得する。
	ListByUser(ctx context.Context, userID string) ([]*model.Course, error)

	// FindByID は指定IDのコースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Course, error)

	// UpdateLedger は成績台帳全体を書き戻し、ledger_versionを1つ進める。
	// 保存されているバージョンがexpectedVersionと異なる場合は
	// model.ErrLedgerVersionConflict を返し、何も書き込まない。
	UpdateLedger(ctx context.Context, id string, items []model.GradedItem, expectedVersion int) error
}

// ConflictRepository は競合データの永続化インターフェース。
type ConflictRepository interface {
	// Create は競合を作成する。
	Create(ctx context.Context, conflict *model.Conflict) error

	// FindByID は指定IDの競合を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Conflict, error)

	// ListUnresolvedByUser はユーザーの未解決の競合を作成日時の降順で取得する。
	ListUnresolvedByUser(ctx context.Context, userID string) ([]*model.Conflict, error)

	// CountUnresolvedByUser はユーザーの未解決の競合数を返す。
	CountUnresolvedByUser(ctx context.Context, userID string) (int, error)

	// Resolve は競合を解決済みにし、解決に伴う課題の変更を同一トランザクションで適用する。
	// 既に解決済みの場合は model.ErrConflictAlreadyResolved を返す。
	Resolve(ctx context.Context, id string, resolution model.ConflictResolution, resolvedAt time.Time, effect ResolutionEffect) error
}

// ResolutionEffect は競合の解決に伴う課題の変更内容。
type ResolutionEffect struct {
	// UpdateAssignmentID が空でなければ、その課題にUpdateを適用する。
	UpdateAssignmentID string
	Update             model.AssignmentUpdate
	// Create が非nilであれば課題を新規作成する。
	Create *model.Assignment
}

// ConnectionRepository は外部プラットフォーム連携情報の永続化インターフェース。
type ConnectionRepository interface {
	// ListConnected は連携中のユーザーをuser_idの昇順で取得する。
	ListConnected(ctx context.Context) ([]*model.Connection, error)

	// MarkDisconnected は連携を無効にする。トークン期限切れやセッション失効時に使用する。
	MarkDisconnected(ctx context.Context, userID string) error

	// UpdateLastSynced は最終同期日時を記録する。
	UpdateLastSynced(ctx context.Context, userID string, at time.Time) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// execer は *sql.DB と *sql.Tx の共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
