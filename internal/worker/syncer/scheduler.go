package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Job はスケジューラから定期実行される補助ジョブ。
type Job interface {
	Run(ctx context.Context) error
}

// Scheduler は同期処理を一定間隔で実行する。
// 各サイクルで同期処理の後に補助ジョブ（解決済み競合の削除など）を実行する。
type Scheduler struct {
	runner Runner
	jobs   []Job
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner Runner, logger *slog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		runner: runner,
		jobs:   jobs,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は同期処理と補助ジョブを1回ずつ実行する。
// 別の同期処理が実行中の場合は同期をスキップする。
func (s *Scheduler) RunOnce(ctx context.Context) {
	_, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("別の同期処理が実行中のためスキップします")
	case err != nil:
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		if err := job.Run(ctx); err != nil {
			s.logger.Error("定期ジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
}
