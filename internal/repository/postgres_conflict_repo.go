package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/coursesync/internal/model"
)

const conflictColumns = `id, user_id, manual_assignment_id, external_title, external_deadline,
	external_course_id, external_course_name, external_data, resolved, resolution,
	resolved_at, created_at`

// PostgresConflictRepo はPostgreSQLを使用した競合リポジトリ。
type PostgresConflictRepo struct {
	db *sql.DB
}

// NewPostgresConflictRepo はPostgresConflictRepoを生成する。
func NewPostgresConflictRepo(db *sql.DB) *PostgresConflictRepo {
	return &PostgresConflictRepo{db: db}
}

func scanConflict(s rowScanner) (*model.Conflict, error) {
	c := &model.Conflict{}
	var extCourseID, extCourseName, resolution sql.NullString
	var resolvedAt sql.NullTime
	err := s.Scan(&c.ID, &c.UserID, &c.ManualAssignmentID, &c.ExternalTitle, &c.ExternalDeadline,
		&extCourseID, &extCourseName, &c.ExternalData, &c.Resolved, &resolution,
		&resolvedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.ExternalCourseID = nullStringValue(extCourseID)
	c.ExternalCourseName = nullStringValue(extCourseName)
	if resolution.Valid {
		r := model.ConflictResolution(resolution.String)
		c.Resolution = &r
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	return c, nil
}

// Create は競合を作成する。
func (r *PostgresConflictRepo) Create(ctx context.Context, c *model.Conflict) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conflicts (id, user_id, manual_assignment_id, external_title, external_deadline,
		                        external_course_id, external_course_name, external_data, resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)`,
		c.ID, c.UserID, c.ManualAssignmentID, c.ExternalTitle, c.ExternalDeadline,
		nullString(c.ExternalCourseID), nullString(c.ExternalCourseName), c.ExternalData, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("競合の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの競合を取得する。見つからない場合はnilを返す。
func (r *PostgresConflictRepo) FindByID(ctx context.Context, id string) (*model.Conflict, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE id = $1`, id)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("競合の取得に失敗しました: %w", err)
	}
	return c, nil
}

// ListUnresolvedByUser は未解決の競合を新しい順に取得する。
func (r *PostgresConflictRepo) ListUnresolvedByUser(ctx context.Context, userID string) ([]*model.Conflict, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts
		 WHERE user_id = $1 AND resolved = false
		 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("競合一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	conflicts := []*model.Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("競合のスキャンに失敗しました: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("競合一覧の読み込みに失敗しました: %w", err)
	}
	return conflicts, nil
}

// CountUnresolvedByUser は未解決の競合数を返す。
func (r *PostgresConflictRepo) CountUnresolvedByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM conflicts WHERE user_id = $1 AND resolved = false`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未解決の競合数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Resolve は競合を解決済みにし、課題の変更を同一トランザクションで適用する。
// resolved = false の条件付き更新により、同時に解決された場合は一方のみが成功する。
func (r *PostgresConflictRepo) Resolve(
	ctx context.Context,
	id string,
	resolution model.ConflictResolution,
	resolvedAt time.Time,
	effect ResolutionEffect,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE conflicts SET resolved = true, resolution = $2, resolved_at = $3
		 WHERE id = $1 AND resolved = false`,
		id, string(resolution), resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("競合の解決に失敗しました: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("競合の解決件数の取得に失敗しました: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", model.ErrConflictAlreadyResolved, id)
	}

	if effect.UpdateAssignmentID != "" {
		if err := updateAssignment(ctx, tx, effect.UpdateAssignmentID, effect.Update, resolvedAt); err != nil {
			return err
		}
	}
	if effect.Create != nil {
		if err := insertAssignment(ctx, tx, effect.Create); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
