package syncer

import "log/slog"

// maxRecordedErrors はSummaryに保持するエラーメッセージの上限。
const maxRecordedErrors = 10

// Summary は同期実行1回分の集計結果。
// ユーザーごとの結果をMergeで合算して実行全体の結果とする。
type Summary struct {
	UsersProcessed     int
	UsersSkipped       int
	AssignmentsCreated int
	AssignmentsUpdated int
	ConflictsCreated   int
	GradesMerged       int
	ErrorCount         int
	// Errors は先頭から最大10件のエラーメッセージ。
	Errors []string
}

// AddError はエラーを記録する。件数は常に数え、メッセージは上限まで保持する。
func (s *Summary) AddError(msg string) {
	s.ErrorCount++
	if len(s.Errors) < maxRecordedErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// Merge は他のSummaryを合算する。
func (s *Summary) Merge(other Summary) {
	s.UsersProcessed += other.UsersProcessed
	s.UsersSkipped += other.UsersSkipped
	s.AssignmentsCreated += other.AssignmentsCreated
	s.AssignmentsUpdated += other.AssignmentsUpdated
	s.ConflictsCreated += other.ConflictsCreated
	s.GradesMerged += other.GradesMerged
	s.ErrorCount += other.ErrorCount
	for _, msg := range other.Errors {
		if len(s.Errors) >= maxRecordedErrors {
			break
		}
		s.Errors = append(s.Errors, msg)
	}
}

// LogValue はslogで構造化出力するための表現を返す。
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("users_processed", s.UsersProcessed),
		slog.Int("users_skipped", s.UsersSkipped),
		slog.Int("assignments_created", s.AssignmentsCreated),
		slog.Int("assignments_updated", s.AssignmentsUpdated),
		slog.Int("conflicts_created", s.ConflictsCreated),
		slog.Int("grades_merged", s.GradesMerged),
		slog.Int("error_count", s.ErrorCount),
		slog.Any("errors", s.Errors),
	)
}
