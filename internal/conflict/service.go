// Package conflict は同期処理が登録した競合の一覧取得と解決を提供する。
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/coursesync/internal/model"
	"github.com/hitoshi/coursesync/internal/reconcile"
	"github.com/hitoshi/coursesync/internal/repository"
)

// Service は競合管理のサービス層。
type Service struct {
	conflicts    repository.ConflictRepository
	assignments  repository.AssignmentRepository
	platformName string
	now          func() time.Time
	newID        func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// platformNameはkeep_bothで作成する課題のメモに使用する。
func NewService(
	conflicts repository.ConflictRepository,
	assignments repository.AssignmentRepository,
	platformName string,
) *Service {
	return &Service{
		conflicts:    conflicts,
		assignments:  assignments,
		platformName: platformName,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// ListUnresolved はユーザーの未解決の競合を新しい順に返す。
func (s *Service) ListUnresolved(ctx context.Context, userID string) ([]*model.Conflict, error) {
	conflicts, err := s.conflicts.ListUnresolvedByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("競合一覧の取得に失敗しました: %w", err)
	}
	return conflicts, nil
}

// CountUnresolved はユーザーの未解決の競合数を返す。
func (s *Service) CountUnresolved(ctx context.Context, userID string) (int, error) {
	count, err := s.conflicts.CountUnresolvedByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("未解決の競合数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Resolve は競合を解決する。
//   - keep_manual: 競合を解決済みにするのみ
//   - use_external: 手動作成の課題を外部の内容で上書きし、登録元をexternalにする
//   - keep_both: 外部の課題を手動作成の課題と同じコースに新規作成する
//
// 他ユーザーの競合は存在しないものとして扱う。
// 同じ外部課題が既に登録済みの場合、use_external と keep_both は受け付けない。
// 同じ組み合わせの競合は同期のたびに登録されるため、外部IDの重複登録を防ぐ。
func (s *Service) Resolve(ctx context.Context, userID, conflictID string, resolution model.ConflictResolution) (*model.Conflict, error) {
	if !resolution.Valid() {
		return nil, model.NewInvalidResolutionError(string(resolution))
	}

	c, err := s.conflicts.FindByID(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("競合の取得に失敗しました: %w", err)
	}
	if c == nil || c.UserID != userID {
		return nil, model.NewConflictNotFoundError(conflictID)
	}
	if c.Resolved {
		return nil, model.NewConflictAlreadyResolvedError(conflictID)
	}

	effect, err := s.effectFor(ctx, c, resolution)
	if err != nil {
		return nil, err
	}

	resolvedAt := s.now()
	if err := s.conflicts.Resolve(ctx, c.ID, resolution, resolvedAt, effect); err != nil {
		if errors.Is(err, model.ErrConflictAlreadyResolved) {
			return nil, model.NewConflictAlreadyResolvedError(conflictID)
		}
		return nil, fmt.Errorf("競合の解決に失敗しました: %w", err)
	}

	c.Resolved = true
	c.Resolution = &resolution
	c.ResolvedAt = &resolvedAt
	return c, nil
}

// effectFor は解決方法に応じた課題の変更内容を組み立てる。
func (s *Service) effectFor(ctx context.Context, c *model.Conflict, resolution model.ConflictResolution) (repository.ResolutionEffect, error) {
	if resolution == model.ResolutionKeepManual {
		return repository.ResolutionEffect{}, nil
	}

	manual, err := s.assignments.FindByID(ctx, c.ManualAssignmentID)
	if err != nil {
		return repository.ResolutionEffect{}, fmt.Errorf("課題の取得に失敗しました: %w", err)
	}
	if manual == nil {
		return repository.ResolutionEffect{}, model.NewAssignmentNotFoundError(c.ManualAssignmentID)
	}

	snap := Snapshot(c)
	if err := s.checkNotTracked(ctx, c.UserID, snap.ID); err != nil {
		return repository.ResolutionEffect{}, err
	}

	if resolution == model.ResolutionUseExternal {
		source := model.SourceExternal
		return repository.ResolutionEffect{
			UpdateAssignmentID: manual.ID,
			Update: model.AssignmentUpdate{
				Title:              &snap.Title,
				Deadline:           &snap.Deadline,
				Source:             &source,
				ExternalID:         &snap.ID,
				ExternalCourseID:   &snap.CourseID,
				ExternalCourseName: &snap.CourseName,
			},
		}, nil
	}

	now := s.now()
	return repository.ResolutionEffect{
		Create: &model.Assignment{
			ID:                 s.newID(),
			UserID:             c.UserID,
			Title:              snap.Title,
			Deadline:           snap.Deadline,
			Source:             model.SourceExternal,
			ExternalID:         snap.ID,
			CourseID:           manual.CourseID,
			ExternalCourseID:   snap.CourseID,
			ExternalCourseName: snap.CourseName,
			Status:             model.StatusNotStarted,
			Category:           model.CategoryAssignment,
			Tags:               []string{},
			Notes:              fmt.Sprintf("Imported from %s (%s)", s.platformName, snap.CourseName),
			CreatedAt:          now,
			UpdatedAt:          now,
		},
	}, nil
}

// checkNotTracked は外部IDを持つ課題がユーザーに既に存在しないことを確認する。
func (s *Service) checkNotTracked(ctx context.Context, userID, externalID string) error {
	if externalID == "" {
		return nil
	}
	existing, err := s.assignments.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("課題一覧の取得に失敗しました: %w", err)
	}
	if tracked := reconcile.FindByExternalID(existing, externalID); tracked != nil {
		return model.NewExternalAlreadyTrackedError(externalID, tracked.ID)
	}
	return nil
}

// Snapshot は競合に保存された外部課題の内容を返す。
// external_dataを解釈できない場合は競合の列の値を使用する。
func Snapshot(c *model.Conflict) model.ExternalSnapshot {
	snap := model.ExternalSnapshot{
		Title:      c.ExternalTitle,
		CourseID:   c.ExternalCourseID,
		CourseName: c.ExternalCourseName,
		Deadline:   c.ExternalDeadline,
	}
	var stored model.ExternalSnapshot
	if err := json.Unmarshal([]byte(c.ExternalData), &stored); err != nil {
		return snap
	}
	snap.ID = stored.ID
	snap.PointsPossible = stored.PointsPossible
	if stored.Title != "" {
		snap.Title = stored.Title
	}
	if !stored.Deadline.IsZero() {
		snap.Deadline = stored.Deadline
	}
	return snap
}
