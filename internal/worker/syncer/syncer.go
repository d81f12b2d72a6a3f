// Package syncer は外部プラットフォームと課題データベースの同期処理を提供する。
// 連携ユーザーごとに外部の課題を取得し、既存の課題との照合結果に応じて
// 作成・更新・競合登録を行う。成績はコースの成績台帳にマージする。
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/coursesync/internal/credential"
	"github.com/hitoshi/coursesync/internal/metrics"
	"github.com/hitoshi/coursesync/internal/model"
	"github.com/hitoshi/coursesync/internal/platform"
	"github.com/hitoshi/coursesync/internal/reconcile"
	"github.com/hitoshi/coursesync/internal/repository"
)

// DefaultPlatformName は作成した課題のメモに記録するプラットフォーム名。
const DefaultPlatformName = "Gradescope"

// Repositories は同期処理が使用する永続化層。
type Repositories struct {
	Connections repository.ConnectionRepository
	Assignments repository.AssignmentRepository
	Courses     repository.CourseRepository
	Conflicts   repository.ConflictRepository
}

// Syncer は同期処理の本体。処理はユーザー・コース・課題の順に逐次実行する。
type Syncer struct {
	repos        Repositories
	secrets      credential.SecretProvider
	sources      platform.SourceFactory
	normalizer   *reconcile.Normalizer
	matcher      *reconcile.SimilarityMatcher
	platformName string
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
	now          func() time.Time
	newID        func() string
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
// platformNameが空の場合は DefaultPlatformName を使用する。
func NewSyncer(
	repos Repositories,
	secrets credential.SecretProvider,
	sources platform.SourceFactory,
	normalizer *reconcile.Normalizer,
	matcher *reconcile.SimilarityMatcher,
	platformName string,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
) *Syncer {
	if platformName == "" {
		platformName = DefaultPlatformName
	}
	if matcher == nil {
		matcher = reconcile.NewSimilarityMatcher(reconcile.MatchFirst)
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Syncer{
		repos:        repos,
		secrets:      secrets,
		sources:      sources,
		normalizer:   normalizer,
		matcher:      matcher,
		platformName: platformName,
		logger:       logger,
		metrics:      mc,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Run は連携中の全ユーザーを同期する。
// ユーザー単位の失敗は集計に記録して次のユーザーへ進む。
// 連携ユーザーの一覧取得に失敗した場合とコンテキストがキャンセルされた場合のみエラーを返す。
func (s *Syncer) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var summary Summary

	conns, err := s.repos.Connections.ListConnected(ctx)
	if err != nil {
		s.metrics.RecordSyncRun(time.Since(start), true)
		s.logger.Error("連携ユーザーの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return summary, fmt.Errorf("%w: 連携ユーザーの取得に失敗: %v", model.ErrCollaboratorUnavailable, err)
	}

	s.logger.Info("同期を開始します",
		slog.Int("user_count", len(conns)),
	)

	var runErr error
	for _, conn := range conns {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		summary.Merge(s.SyncUser(ctx, conn))
	}

	duration := time.Since(start)
	s.recordMetrics(summary, duration, runErr != nil)
	s.logger.Info("同期が完了しました",
		slog.Any("summary", summary),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return summary, runErr
}

func (s *Syncer) recordMetrics(summary Summary, duration time.Duration, failed bool) {
	s.metrics.RecordSyncRun(duration, failed)
	s.metrics.RecordUsers(summary.UsersProcessed, summary.UsersSkipped)
	s.metrics.RecordAssignments(summary.AssignmentsCreated, summary.AssignmentsUpdated)
	s.metrics.RecordConflictsCreated(summary.ConflictsCreated)
	s.metrics.RecordGradesMerged(summary.GradesMerged)
	s.metrics.RecordSyncErrors(summary.ErrorCount)
}

// userRun はユーザー1人分の同期パスの状態。
type userRun struct {
	userID   string
	source   platform.Source
	existing []*model.Assignment
	courses  map[string]*model.Course
	ordered  []*model.Course
	summary  Summary
}

// SyncUser はユーザー1人分を同期する。失敗は返り値のSummaryに記録される。
func (s *Syncer) SyncUser(ctx context.Context, conn *model.Connection) Summary {
	var summary Summary
	logger := s.logger.With(slog.String("user_id", conn.UserID))

	if conn.Expired(s.now()) {
		logger.Warn("トークンの有効期限が切れているためスキップします")
		s.disconnect(ctx, conn.UserID, logger)
		summary.UsersSkipped++
		return summary
	}

	token, err := s.secrets.Secret(ctx, conn)
	if err != nil {
		logger.Error("セッショントークンの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		summary.UsersSkipped++
		summary.AddError(fmt.Sprintf("user %s: セッショントークンの取得に失敗: %v", conn.UserID, err))
		return summary
	}

	source := s.sources.NewSource(token)
	if err := source.VerifySession(ctx); err != nil {
		summary.UsersSkipped++
		if errors.Is(err, model.ErrAuthenticationExpired) {
			logger.Warn("セッションが失効しているため連携を無効にします")
			s.disconnect(ctx, conn.UserID, logger)
			return summary
		}
		logger.Error("セッションの確認に失敗しました",
			slog.String("error", err.Error()),
		)
		summary.AddError(fmt.Sprintf("user %s: セッションの確認に失敗: %v", conn.UserID, err))
		return summary
	}

	// 既存データの取得に失敗した場合は空とみなさずスキップする。空とみなすと重複作成になる。
	existing, err := s.repos.Assignments.ListByUser(ctx, conn.UserID)
	if err != nil {
		logger.Error("既存の課題の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		summary.UsersSkipped++
		summary.AddError(fmt.Sprintf("user %s: 既存の課題の取得に失敗: %v", conn.UserID, err))
		return summary
	}
	courses, err := s.repos.Courses.ListByUser(ctx, conn.UserID)
	if err != nil {
		logger.Error("コースの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		summary.UsersSkipped++
		summary.AddError(fmt.Sprintf("user %s: コースの取得に失敗: %v", conn.UserID, err))
		return summary
	}

	run := &userRun{
		userID:   conn.UserID,
		source:   source,
		existing: existing,
		courses:  make(map[string]*model.Course, len(courses)),
		ordered:  courses,
	}
	for _, c := range courses {
		run.courses[c.ID] = c
	}

	extCourses, err := source.ListCourses(ctx)
	if err != nil {
		if errors.Is(err, model.ErrAuthenticationExpired) {
			logger.Warn("コース取得中にセッションが失効したため連携を無効にします")
			s.disconnect(ctx, conn.UserID, logger)
			summary.UsersSkipped++
			return summary
		}
		logger.Error("外部コースの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		run.summary.AddError(fmt.Sprintf("user %s: 外部コースの取得に失敗: %v", conn.UserID, err))
		extCourses = nil
	}

	for _, ext := range extCourses {
		if ctx.Err() != nil {
			break
		}
		if err := s.syncCourse(ctx, run, ext, logger); errors.Is(err, model.ErrAuthenticationExpired) {
			logger.Warn("課題取得中にセッションが失効したため連携を無効にします",
				slog.String("external_course_id", ext.ID),
			)
			s.disconnect(ctx, conn.UserID, logger)
			run.summary.UsersSkipped++
			return run.summary
		}
	}

	if err := s.repos.Connections.UpdateLastSynced(ctx, conn.UserID, s.now()); err != nil {
		logger.Error("最終同期日時の記録に失敗しました",
			slog.String("error", err.Error()),
		)
		run.summary.AddError(fmt.Sprintf("user %s: 最終同期日時の記録に失敗: %v", conn.UserID, err))
	}

	run.summary.UsersProcessed++
	logger.Info("ユーザーの同期が完了しました",
		slog.Any("summary", run.summary),
	)
	return run.summary
}

func (s *Syncer) disconnect(ctx context.Context, userID string, logger *slog.Logger) {
	if err := s.repos.Connections.MarkDisconnected(ctx, userID); err != nil {
		logger.Error("連携の無効化に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// syncCourse は外部コース1件分の課題を処理し、変更があれば成績台帳を書き戻す。
// 課題一覧の取得に失敗した場合はそのエラーを返す。呼び出し側はセッション失効のときだけユーザーの同期を打ち切る。
func (s *Syncer) syncCourse(ctx context.Context, run *userRun, ext model.ExternalCourse, logger *slog.Logger) error {
	logger = logger.With(slog.String("external_course_id", ext.ID))

	courseID := reconcile.ResolveCourse(ext.Name, ext.ShortName, run.ordered)

	raws, err := run.source.ListAssignments(ctx, ext.ID)
	if err != nil {
		if errors.Is(err, model.ErrAuthenticationExpired) {
			return err
		}
		logger.Error("外部課題の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		run.summary.AddError(fmt.Sprintf("user %s course %s: 外部課題の取得に失敗: %v", run.userID, ext.ID, err))
		return err
	}

	var ledger *reconcile.Ledger
	if course, ok := run.courses[courseID]; ok {
		ledger = reconcile.NewLedger(course)
	}

	for _, raw := range raws {
		a, err := s.normalizer.Normalize(raw, ext)
		if err != nil {
			logger.Debug("課題をスキップしました",
				slog.String("reason", err.Error()),
			)
			continue
		}
		s.syncAssignment(ctx, run, a, courseID, ledger, logger)
	}

	if ledger != nil && ledger.Dirty() {
		s.flushLedger(ctx, run, ledger, logger)
	}
	return nil
}

// syncAssignment は正規化済みの外部課題1件を照合し、作成・更新・競合登録のいずれかを行う。
func (s *Syncer) syncAssignment(ctx context.Context, run *userRun, a *model.ExternalAssignment, courseID string, ledger *reconcile.Ledger, logger *slog.Logger) {
	if a.Score != nil && ledger != nil {
		var total float64
		if a.PointsPossible != nil {
			total = *a.PointsPossible
		}
		if ledger.Merge(a.Title, *a.Score, total) != reconcile.MergeUnchanged {
			run.summary.GradesMerged++
		}
	}

	if match := reconcile.FindByExternalID(run.existing, a.ExternalID); match != nil {
		s.updateExisting(ctx, run, match, a, courseID, logger)
		return
	}

	if similar := s.matcher.FindSimilar(run.existing, a); similar != nil {
		s.createConflict(ctx, run, similar, a, logger)
		return
	}

	if a.Deadline.Before(s.now()) {
		return
	}

	s.createAssignment(ctx, run, a, courseID, logger)
}

func (s *Syncer) updateExisting(ctx context.Context, run *userRun, match *model.Assignment, a *model.ExternalAssignment, courseID string, logger *slog.Logger) {
	var update model.AssignmentUpdate
	if !match.Deadline.Equal(a.Deadline) {
		deadline := a.Deadline
		update.Deadline = &deadline
	}
	if match.CourseID == "" && courseID != "" {
		id := courseID
		update.CourseID = &id
	}
	if update.IsEmpty() {
		return
	}

	if err := s.repos.Assignments.Update(ctx, match.ID, update); err != nil {
		logger.Error("課題の更新に失敗しました",
			slog.String("assignment_id", match.ID),
			slog.String("error", err.Error()),
		)
		run.summary.AddError(fmt.Sprintf("user %s: 課題 %s の更新に失敗: %v", run.userID, match.ID, err))
		return
	}
	update.Apply(match)
	run.summary.AssignmentsUpdated++
}

func (s *Syncer) createConflict(ctx context.Context, run *userRun, similar *model.Assignment, a *model.ExternalAssignment, logger *slog.Logger) {
	snapshot, err := json.Marshal(model.ExternalSnapshot{
		ID:             a.ExternalID,
		Title:          a.Title,
		CourseID:       a.CourseExternalID,
		CourseName:     a.CourseName,
		Deadline:       a.Deadline,
		PointsPossible: a.PointsPossible,
	})
	if err != nil {
		run.summary.AddError(fmt.Sprintf("user %s: 外部課題のスナップショット生成に失敗: %v", run.userID, err))
		return
	}

	conflict := &model.Conflict{
		ID:                 s.newID(),
		UserID:             run.userID,
		ManualAssignmentID: similar.ID,
		ExternalTitle:      a.Title,
		ExternalDeadline:   a.Deadline,
		ExternalCourseID:   a.CourseExternalID,
		ExternalCourseName: a.CourseName,
		ExternalData:       string(snapshot),
		CreatedAt:          s.now(),
	}
	if err := s.repos.Conflicts.Create(ctx, conflict); err != nil {
		logger.Error("競合の登録に失敗しました",
			slog.String("manual_assignment_id", similar.ID),
			slog.String("error", err.Error()),
		)
		run.summary.AddError(fmt.Sprintf("user %s: 競合の登録に失敗: %v", run.userID, err))
		return
	}
	run.summary.ConflictsCreated++
	logger.Info("手動作成の課題との競合を登録しました",
		slog.String("conflict_id", conflict.ID),
		slog.String("manual_assignment_id", similar.ID),
		slog.String("external_id", a.ExternalID),
	)
}

func (s *Syncer) createAssignment(ctx context.Context, run *userRun, a *model.ExternalAssignment, courseID string, logger *slog.Logger) {
	now := s.now()
	assignment := &model.Assignment{
		ID:                 s.newID(),
		UserID:             run.userID,
		Title:              a.Title,
		Deadline:           a.Deadline,
		Source:             model.SourceExternal,
		ExternalID:         a.ExternalID,
		CourseID:           courseID,
		ExternalCourseID:   a.CourseExternalID,
		ExternalCourseName: a.CourseName,
		Status:             model.StatusNotStarted,
		Category:           model.CategoryAssignment,
		Tags:               []string{},
		Notes:              fmt.Sprintf("Imported from %s (%s)", s.platformName, a.CourseName),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repos.Assignments.Create(ctx, assignment); err != nil {
		logger.Error("課題の作成に失敗しました",
			slog.String("external_id", a.ExternalID),
			slog.String("error", err.Error()),
		)
		run.summary.AddError(fmt.Sprintf("user %s: 課題 %s の作成に失敗: %v", run.userID, a.ExternalID, err))
		return
	}
	// 同じパス内で同じ外部IDが再度現れた場合に更新として扱うため追加しておく
	run.existing = append(run.existing, assignment)
	run.summary.AssignmentsCreated++
}

// flushLedger は成績台帳をバージョン付きで書き戻す。
// 競合した場合は最新のコースを読み直し、保留中のマージを適用し直して1度だけ再試行する。
func (s *Syncer) flushLedger(ctx context.Context, run *userRun, ledger *reconcile.Ledger, logger *slog.Logger) {
	courseID := ledger.CourseID()
	err := s.repos.Courses.UpdateLedger(ctx, courseID, ledger.Items(), ledger.Version())
	if errors.Is(err, model.ErrLedgerVersionConflict) {
		logger.Warn("成績台帳の書き込みが競合したため再試行します",
			slog.String("course_id", courseID),
		)
		latest, findErr := s.repos.Courses.FindByID(ctx, courseID)
		switch {
		case findErr != nil:
			err = findErr
		case latest == nil:
			err = fmt.Errorf("course %s not found", courseID)
		default:
			ledger = ledger.Rebase(latest)
			err = s.repos.Courses.UpdateLedger(ctx, courseID, ledger.Items(), ledger.Version())
		}
	}
	if err != nil {
		logger.Error("成績台帳の書き込みに失敗しました",
			slog.String("course_id", courseID),
			slog.String("error", err.Error()),
		)
		run.summary.AddError(fmt.Sprintf("user %s: コース %s の成績台帳の書き込みに失敗: %v", run.userID, courseID, err))
		return
	}

	// 同じ内部コースに複数の外部コースが対応する場合に備えて手元のコースも進めておく
	if course, ok := run.courses[courseID]; ok {
		course.GradedItems = ledger.Items()
		course.LedgerVersion = ledger.Version() + 1
	}
}
