// Package model はドメインモデルを定義する。
package model

import "time"

// RawAssignment は外部プラットフォームから取得した未正規化の課題データ。
// キー名はプラットフォームごとに揺れがあるため、正規化時に別名を解決する。
type RawAssignment map[string]any

// ExternalCourse は外部プラットフォーム上のコースを表す。
type ExternalCourse struct {
	ID        string
	Name      string
	ShortName string
}

// DisplayName は表示用のコース名を返す。
// name → shortname → "Unknown" の順にフォールバックする。
func (c ExternalCourse) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.ShortName != "" {
		return c.ShortName
	}
	return "Unknown"
}

// ExternalAssignment は正規化済みの外部課題を表す。
// 同期パスごとに生成され、そのまま永続化されることはない。
type ExternalAssignment struct {
	ExternalID       string
	Title            string
	CourseExternalID string
	CourseName       string
	Deadline         time.Time
	PointsPossible   *float64
	Score            *float64
}
