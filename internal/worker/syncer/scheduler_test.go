package syncer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// countingJob は実行回数を数えるJob。
type countingJob struct {
	calls atomic.Int32
	err   error
}

func (j *countingJob) Run(ctx context.Context) error {
	j.calls.Add(1)
	return j.err
}

func TestScheduler_RunOnceRunsSyncAndJobs(t *testing.T) {
	var buf bytes.Buffer
	runner := &stubRunner{}
	job := &countingJob{}

	s := NewScheduler(runner, newTestLogger(&buf), job)
	s.RunOnce(context.Background())

	if runner.calls != 1 {
		t.Errorf("同期の実行回数 = %d, want 1", runner.calls)
	}
	if job.calls.Load() != 1 {
		t.Errorf("ジョブの実行回数 = %d, want 1", job.calls.Load())
	}
}

func TestScheduler_RunOnceSkipsWhenLocked(t *testing.T) {
	var buf bytes.Buffer
	runner := &stubRunner{err: ErrRunInProgress}
	job := &countingJob{}

	s := NewScheduler(runner, newTestLogger(&buf), job)
	s.RunOnce(context.Background())

	if !strings.Contains(buf.String(), "別の同期処理が実行中のためスキップします") {
		t.Errorf("スキップのログが出力されていない: %s", buf.String())
	}
	if strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("ロック中はエラーとして記録してはならない: %s", buf.String())
	}
	if job.calls.Load() != 1 {
		t.Errorf("ジョブの実行回数 = %d, want 1", job.calls.Load())
	}
}

func TestScheduler_RunOnceLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	runner := &stubRunner{err: errors.New("db down")}
	job := &countingJob{err: errors.New("cleanup failed")}

	s := NewScheduler(runner, newTestLogger(&buf), job)
	s.RunOnce(context.Background())

	logs := buf.String()
	if !strings.Contains(logs, "同期サイクルの実行に失敗しました") {
		t.Errorf("同期失敗のログが出力されていない: %s", logs)
	}
	if !strings.Contains(logs, "定期ジョブの実行に失敗しました") {
		t.Errorf("ジョブ失敗のログが出力されていない: %s", logs)
	}
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	var calls atomic.Int32
	runner := &atomicRunner{calls: &calls}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s := NewScheduler(runner, newTestLogger(&buf))
	go func() {
		s.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("スケジューラがキャンセル後に停止しなかった")
	}

	if calls.Load() < 2 {
		t.Errorf("同期の実行回数 = %d, want >= 2（起動直後と1回以上のティック）", calls.Load())
	}
}

// atomicRunner はゴルーチンから安全に呼び出し回数を数えるRunner。
type atomicRunner struct {
	calls *atomic.Int32
}

func (r *atomicRunner) Run(ctx context.Context) (Summary, error) {
	r.calls.Add(1)
	return Summary{}, nil
}
