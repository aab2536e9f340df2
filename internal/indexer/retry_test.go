package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/ytindexer/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     maxAttempts,
		BaseDelay:       1 * time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	r := NewRetryableOperation(fastRetryConfig(3), testLogger())

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, "test_op")

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("成功した操作は1回だけ呼ばれるべき: got %d", calls)
	}
}

func TestExecute_RecoversOnRetry(t *testing.T) {
	r := NewRetryableOperation(fastRetryConfig(3), testLogger())

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, "test_op")

	if err != nil {
		t.Fatalf("3回目で成功するはず: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// リトライ上限: 常に失敗する操作はMaxAttempts回だけ呼ばれ、
// 合計遅延は MaxAttempts * MaxDelay * 1.3 を超えない。
func TestExecute_RetryBound(t *testing.T) {
	cfg := fastRetryConfig(3)
	r := NewRetryableOperation(cfg, testLogger())

	calls := 0
	wantErr := errors.New("always fails")
	start := time.Now()
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	}, "test_op")
	elapsed := time.Since(start)

	if calls != 3 {
		t.Errorf("calls = %d, want MaxAttempts=3", calls)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("最後のエラーが伝播すべき: got %v", err)
	}

	bound := time.Duration(float64(cfg.MaxAttempts) * float64(cfg.MaxDelay) * 1.3)
	// テスト実行のオーバーヘッド分の余裕を持たせる
	if elapsed > bound+100*time.Millisecond {
		t.Errorf("合計遅延 %v が上限 %v を大きく超えている", elapsed, bound)
	}
}

// 非リトライ対象の短絡: 設定された非リトライ対象エラーで失敗する操作は
// ちょうど1回だけ呼ばれる。
func TestExecute_NonRetryableShortCircuit(t *testing.T) {
	r := NewRetryableOperation(fastRetryConfig(5), testLogger(),
		MatchSubstring("duplicate key"),
	)

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New(`pq: duplicate key value violates unique constraint "videos_video_id_idx"`)
	}, "test_op")

	if calls != 1 {
		t.Errorf("非リトライ対象エラーは1回で中断すべき: calls = %d", calls)
	}
	if !errors.Is(err, ErrSkippedNonRetryable) {
		t.Errorf("ErrSkippedNonRetryableを返すべき: got %v", err)
	}
}

func TestExecute_NonRetryableByErrorsIs(t *testing.T) {
	rule := func(err error) bool { return errors.Is(err, model.ErrConflict) }
	r := NewRetryableOperation(fastRetryConfig(5), testLogger(), rule)

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return model.ErrConflict
	}, "test_op")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, ErrSkippedNonRetryable) {
		t.Errorf("got %v", err)
	}
}

func TestExecute_CancelledDuringBackoff(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:     3,
		BaseDelay:       10 * time.Second, // キャンセルが効かなければテストがハングする
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
	}
	r := NewRetryableOperation(cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Execute(ctx, func(ctx context.Context) error {
		return errors.New("transient")
	}, "test_op")

	if !errors.Is(err, context.Canceled) {
		t.Errorf("キャンセルはcontext.Canceledとして伝播すべき: got %v", err)
	}
	if time.Since(start) > 1*time.Second {
		t.Error("バックオフ待機はキャンセルで即座に中断されるべき")
	}
}

func TestBackoffDelay_CappedAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:     10,
		BaseDelay:       1 * time.Second,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2.0,
	}
	r := NewRetryableOperation(cfg, testLogger())

	for attempt := 1; attempt <= 10; attempt++ {
		delay := r.backoffDelay(attempt)
		// ジッタは遅延の最大30%
		upper := time.Duration(float64(cfg.MaxDelay) * 1.3)
		if delay > upper {
			t.Errorf("attempt %d: delay %v が上限 %v を超えている", attempt, delay, upper)
		}
		lower := time.Duration(float64(cfg.BaseDelay) * 1.1)
		if delay < lower {
			t.Errorf("attempt %d: delay %v が下限 %v を下回っている", attempt, delay, lower)
		}
	}
}

func TestNewRetryableOperation_NormalizesInvalidConfig(t *testing.T) {
	r := NewRetryableOperation(RetryConfig{}, testLogger())

	if r.config.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", r.config.MaxAttempts)
	}
	if r.config.BaseDelay <= 0 {
		t.Error("BaseDelayは正の値に補正されるべき")
	}
	if r.config.MaxDelay < r.config.BaseDelay {
		t.Error("MaxDelayはBaseDelay以上に補正されるべき")
	}
	if r.config.ExponentialBase <= 1 {
		t.Error("ExponentialBaseは1より大きい値に補正されるべき")
	}
}
