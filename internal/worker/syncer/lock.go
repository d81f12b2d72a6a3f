package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/flock"
)

// ErrRunInProgress は別の同期処理がロックを保持していることを示す。
var ErrRunInProgress = errors.New("sync run already in progress")

// Runner は同期処理1回分の実行インターフェース。
type Runner interface {
	Run(ctx context.Context) (Summary, error)
}

// RunLock は同期処理の排他制御を行う。
// 同一プロセス内はミューテックス、プロセス間はファイルロックで排他する。
type RunLock struct {
	mu   sync.Mutex
	file *flock.Flock
}

// NewRunLock は指定パスのロックファイルを使用するRunLockを生成する。
func NewRunLock(path string) *RunLock {
	return &RunLock{file: flock.New(path)}
}

// TryLock はロックの取得を試みる。取得できなかった場合は ErrRunInProgress を返す。
// 取得できた場合は返された解放関数を必ず呼び出すこと。
func (l *RunLock) TryLock() (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	locked, err := l.file.TryLock()
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("ロックファイルの取得に失敗: %w", err)
	}
	if !locked {
		l.mu.Unlock()
		return nil, ErrRunInProgress
	}
	return func() {
		_ = l.file.Unlock()
		l.mu.Unlock()
	}, nil
}

// ExclusiveRunner はロックを取得できた場合のみRunnerを実行する。
type ExclusiveRunner struct {
	runner Runner
	lock   *RunLock
}

// NewExclusiveRunner はExclusiveRunnerを生成する。
func NewExclusiveRunner(runner Runner, lock *RunLock) *ExclusiveRunner {
	return &ExclusiveRunner{runner: runner, lock: lock}
}

// Run はロックを保持したまま同期処理を1回実行する。
// 他の同期処理が実行中の場合は ErrRunInProgress を返す。
func (r *ExclusiveRunner) Run(ctx context.Context) (Summary, error) {
	unlock, err := r.lock.TryLock()
	if err != nil {
		return Summary{}, err
	}
	defer unlock()
	return r.runner.Run(ctx)
}
