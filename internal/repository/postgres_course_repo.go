package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/coursesync/internal/model"
)

// PostgresCourseRepo はPostgreSQLを使用したコースリポジトリ。
// 成績台帳はJSONB列に保存し、ledger_versionで楽観的ロックを行う。
type PostgresCourseRepo struct {
	db *sql.DB
}

// NewPostgresCourseRepo はPostgresCourseRepoを生成する。
func NewPostgresCourseRepo(db *sql.DB) *PostgresCourseRepo {
	return &PostgresCourseRepo{db: db}
}

func scanCourse(s rowScanner) (*model.Course, error) {
	c := &model.Course{}
	var items, weights []byte
	err := s.Scan(&c.ID, &c.UserID, &c.Code, &c.Name, &items, &weights,
		&c.LedgerVersion, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	// 外部から直接編集された台帳が壊れていても同期は継続する
	c.GradedItems = model.DecodeGradedItems(items)
	c.GradeWeights = model.DecodeGradeWeights(weights)
	return c, nil
}

// ListByUser はユーザーの全コースを取得する。
func (r *PostgresCourseRepo) ListByUser(ctx context.Context, userID string) ([]*model.Course, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, code, name, graded_items, grade_weights, ledger_version, created_at, updated_at
		 FROM courses WHERE user_id = $1 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("コース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var courses []*model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("コースのスキャンに失敗しました: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コース一覧の読み込みに失敗しました: %w", err)
	}
	return courses, nil
}

// FindByID は指定IDのコースを取得する。見つからない場合はnilを返す。
func (r *PostgresCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, code, name, graded_items, grade_weights, ledger_version, created_at, updated_at
		 FROM courses WHERE id = $1`,
		id,
	)
	c, err := scanCourse(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	return c, nil
}

// UpdateLedger は成績台帳をバージョン一致時のみ書き戻す。
func (r *PostgresCourseRepo) UpdateLedger(ctx context.Context, id string, items []model.GradedItem, expectedVersion int) error {
	if items == nil {
		items = []model.GradedItem{}
	}
	// lib/pqは[]byteをbyteaとして送るため、JSONB列には文字列で渡す
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("成績台帳のエンコードに失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE courses
		 SET graded_items = $2, ledger_version = ledger_version + 1, updated_at = now()
		 WHERE id = $1 AND ledger_version = $3`,
		id, string(data), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("成績台帳の更新に失敗しました: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("成績台帳の更新件数の取得に失敗しました: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: course %s version %d", model.ErrLedgerVersionConflict, id, expectedVersion)
	}
	return nil
}
