// Package model はドメインモデルを定義する。
package model

import "time"

// ConflictResolution は競合の解決方法を表す。
type ConflictResolution string

const (
	// ResolutionKeepManual は手動作成の課題をそのまま残す。
	ResolutionKeepManual ConflictResolution = "keep_manual"
	// ResolutionUseExternal は手動作成の課題を外部の内容で置き換える。
	ResolutionUseExternal ConflictResolution = "use_external"
	// ResolutionKeepBoth は外部の課題を別レコードとして追加する。
	ResolutionKeepBoth ConflictResolution = "keep_both"
)

// Valid は定義済みの解決方法かどうかを返す。
func (r ConflictResolution) Valid() bool {
	switch r {
	case ResolutionKeepManual, ResolutionUseExternal, ResolutionKeepBoth:
		return true
	default:
		return false
	}
}

// Conflict は手動作成の課題と外部課題の曖昧な対応を表す。
// 同期処理は作成のみを行い、解決は人手による操作で行われる。
type Conflict struct {
	ID                 string
	UserID             string
	ManualAssignmentID string
	ExternalTitle      string
	ExternalDeadline   time.Time
	ExternalCourseID   string
	ExternalCourseName string
	// ExternalData は外部課題のスナップショット（ExternalSnapshotのJSON）。
	ExternalData string
	Resolved     bool
	Resolution   *ConflictResolution
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}

// ExternalSnapshot は競合作成時点の外部課題の内容。
type ExternalSnapshot struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CourseID       string    `json:"courseId"`
	CourseName     string    `json:"courseName"`
	Deadline       time.Time `json:"deadline"`
	PointsPossible *float64  `json:"pointsPossible"`
}
