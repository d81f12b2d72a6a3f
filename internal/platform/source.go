// Package platform は外部の課題管理プラットフォームとの通信を提供する。
//
// 同期処理は Source インターフェースのみに依存し、HTTPやHTMLの詳細は知らない。
package platform

import (
	"context"

	"github.com/hitoshi/coursesync/internal/model"
)

// Source はユーザー1人分のセッションで外部プラットフォームからデータを取得する。
type Source interface {
	// VerifySession はセッションが有効かを確認する。
	// 失効している場合は model.ErrAuthenticationExpired を返す。
	VerifySession(ctx context.Context) error

	// ListCourses はユーザーが登録しているコースを取得する。
	ListCourses(ctx context.Context) ([]model.ExternalCourse, error)

	// ListAssignments はコースの課題を未正規化のまま取得する。
	ListAssignments(ctx context.Context, courseID string) ([]model.RawAssignment, error)
}

// SourceFactory は復号済みのセッショントークンから Source を生成する。
type SourceFactory interface {
	NewSource(token string) Source
}
