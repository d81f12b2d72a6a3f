// Package model はドメインモデルを定義する。
package model

import "time"

// Source は課題レコードの登録元を表す。
type Source string

const (
	// SourceManual はユーザーが手動で作成した課題。
	SourceManual Source = "manual"
	// SourceExternal は外部プラットフォームから同期された課題。
	SourceExternal Source = "external"
)

// AssignmentStatus は課題の進捗状態を表す。
type AssignmentStatus string

const (
	// StatusNotStarted は未着手の状態。
	StatusNotStarted AssignmentStatus = "not_started"
	// StatusInProgress は着手中の状態。
	StatusInProgress AssignmentStatus = "in_progress"
	// StatusCompleted は完了済みの状態。
	StatusCompleted AssignmentStatus = "completed"
)

// CategoryAssignment は同期で作成される課題のカテゴリ。
const CategoryAssignment = "assignment"

// Assignment はユーザーのタスク一覧を構成する追跡対象の課題を表す。
type Assignment struct {
	ID                 string
	UserID             string
	Title              string
	Deadline           time.Time
	Source             Source
	ExternalID         string
	CourseID           string // 内部コースID。未リンクの場合は空文字列
	ExternalCourseID   string
	ExternalCourseName string
	Status             AssignmentStatus
	Category           string
	Tags               []string
	Notes              string

	// 他サブシステムが後から埋めるフィールド
	AttachmentFileID   *string
	AttachmentFileName *string
	CompletedAt        *time.Time
	CalendarEventID    *string
	CalendarSynced     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsManual は手動作成された課題かどうかを返す。
// 登録元が未設定の古いレコードも手動扱いとする。
func (a *Assignment) IsManual() bool {
	return a.Source == SourceManual || a.Source == ""
}

// AssignmentUpdate は課題の部分更新内容を表す。
// nilのフィールドは変更しない。
type AssignmentUpdate struct {
	Title              *string
	Deadline           *time.Time
	Source             *Source
	ExternalID         *string
	CourseID           *string
	ExternalCourseID   *string
	ExternalCourseName *string
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (u AssignmentUpdate) IsEmpty() bool {
	return u.Title == nil && u.Deadline == nil && u.Source == nil &&
		u.ExternalID == nil && u.CourseID == nil &&
		u.ExternalCourseID == nil && u.ExternalCourseName == nil
}

// Apply は部分更新内容を課題に反映する。
// 同期パス内のメモリ上の課題一覧を最新に保つために使用する。
func (u AssignmentUpdate) Apply(a *Assignment) {
	if u.Title != nil {
		a.Title = *u.Title
	}
	if u.Deadline != nil {
		a.Deadline = *u.Deadline
	}
	if u.Source != nil {
		a.Source = *u.Source
	}
	if u.ExternalID != nil {
		a.ExternalID = *u.ExternalID
	}
	if u.CourseID != nil {
		a.CourseID = *u.CourseID
	}
	if u.ExternalCourseID != nil {
		a.ExternalCourseID = *u.ExternalCourseID
	}
	if u.ExternalCourseName != nil {
		a.ExternalCourseName = *u.ExternalCourseName
	}
}
