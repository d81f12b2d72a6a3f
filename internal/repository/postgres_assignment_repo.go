package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/coursesync/internal/model"
	"github.com/lib/pq"
)

const assignmentColumns = `id, user_id, title, deadline, source, external_id, course_id,
	external_course_id, external_course_name, status, category, tags, notes,
	attachment_file_id, attachment_file_name, completed_at, calendar_event_id,
	calendar_synced, created_at, updated_at`

// PostgresAssignmentRepo はPostgreSQLを使用した課題リポジトリ。
type PostgresAssignmentRepo struct {
	db *sql.DB
}

// NewPostgresAssignmentRepo はPostgresAssignmentRepoを生成する。
func NewPostgresAssignmentRepo(db *sql.DB) *PostgresAssignmentRepo {
	return &PostgresAssignmentRepo{db: db}
}

// rowScanner は *sql.Row と *sql.Rows の共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(s rowScanner) (*model.Assignment, error) {
	a := &model.Assignment{}
	var deadline, completedAt sql.NullTime
	var externalID, courseID, extCourseID, extCourseName sql.NullString
	var attachmentID, attachmentName, calendarEventID sql.NullString
	var source, status string

	err := s.Scan(
		&a.ID, &a.UserID, &a.Title, &deadline, &source, &externalID, &courseID,
		&extCourseID, &extCourseName, &status, &a.Category, pq.Array(&a.Tags), &a.Notes,
		&attachmentID, &attachmentName, &completedAt, &calendarEventID,
		&a.CalendarSynced, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Source = model.Source(source)
	a.Status = model.AssignmentStatus(status)
	if deadline.Valid {
		a.Deadline = deadline.Time
	}
	a.ExternalID = nullStringValue(externalID)
	a.CourseID = nullStringValue(courseID)
	a.ExternalCourseID = nullStringValue(extCourseID)
	a.ExternalCourseName = nullStringValue(extCourseName)
	a.AttachmentFileID = nullStringPtr(attachmentID)
	a.AttachmentFileName = nullStringPtr(attachmentName)
	a.CalendarEventID = nullStringPtr(calendarEventID)
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	return a, nil
}

// ListByUser はユーザーの全課題を取得する。
func (r *PostgresAssignmentRepo) ListByUser(ctx context.Context, userID string) ([]*model.Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE user_id = $1 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("課題一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var assignments []*model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("課題のスキャンに失敗しました: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("課題一覧の読み込みに失敗しました: %w", err)
	}
	return assignments, nil
}

// FindByID は指定IDの課題を取得する。見つからない場合はnilを返す。
func (r *PostgresAssignmentRepo) FindByID(ctx context.Context, id string) (*model.Assignment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`,
		id,
	)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("課題の取得に失敗しました: %w", err)
	}
	return a, nil
}

// Create は課題を作成する。
func (r *PostgresAssignmentRepo) Create(ctx context.Context, a *model.Assignment) error {
	return insertAssignment(ctx, r.db, a)
}

// Update は非nilのフィールドのみを更新する。
func (r *PostgresAssignmentRepo) Update(ctx context.Context, id string, update model.AssignmentUpdate) error {
	return updateAssignment(ctx, r.db, id, update, time.Now())
}

func insertAssignment(ctx context.Context, db execer, a *model.Assignment) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO assignments (`+assignmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		a.ID, a.UserID, a.Title, nullTime(a.Deadline), string(a.Source), nullString(a.ExternalID),
		nullString(a.CourseID), nullString(a.ExternalCourseID), nullString(a.ExternalCourseName),
		string(a.Status), a.Category, pq.Array(tags), a.Notes,
		a.AttachmentFileID, a.AttachmentFileName, a.CompletedAt, a.CalendarEventID,
		a.CalendarSynced, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("課題の作成に失敗しました: %w", err)
	}
	return nil
}

// buildAssignmentUpdate は部分更新のSET句と引数を組み立てる。
// 先頭の引数 $1 は課題IDとする。
func buildAssignmentUpdate(id string, u model.AssignmentUpdate, now time.Time) (string, []any) {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.Deadline != nil {
		add("deadline", nullTime(*u.Deadline))
	}
	if u.Source != nil {
		add("source", string(*u.Source))
	}
	if u.ExternalID != nil {
		add("external_id", nullString(*u.ExternalID))
	}
	if u.CourseID != nil {
		add("course_id", nullString(*u.CourseID))
	}
	if u.ExternalCourseID != nil {
		add("external_course_id", nullString(*u.ExternalCourseID))
	}
	if u.ExternalCourseName != nil {
		add("external_course_name", nullString(*u.ExternalCourseName))
	}
	add("updated_at", now)

	return `UPDATE assignments SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`, args
}

func updateAssignment(ctx context.Context, db execer, id string, u model.AssignmentUpdate, now time.Time) error {
	if u.IsEmpty() {
		return nil
	}
	query, args := buildAssignmentUpdate(id, u, now)
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("課題の更新に失敗しました: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("課題の更新件数の取得に失敗しました: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("課題が見つかりません: %s", id)
	}
	return nil
}
