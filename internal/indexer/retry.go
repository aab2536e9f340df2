package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"
)

// ErrSkippedNonRetryable は操作が非リトライ対象エラーにより中断されたことを示す。
// 呼び出し側はこれを致命エラーではなくスキップとして扱う。
var ErrSkippedNonRetryable = errors.New("非リトライ対象エラーのため操作をスキップしました")

// RetryConfig はリトライ実行器の設定を保持する。
type RetryConfig struct {
	MaxAttempts     int           // 総試行回数（1以上）
	BaseDelay       time.Duration // 初回リトライ前の遅延（0より大きい）
	MaxDelay        time.Duration // 遅延の上限（BaseDelay以上）
	ExponentialBase float64       // 指数の底（1より大きい）
}

// DefaultRetryConfig はデフォルトのリトライ設定を返す。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}
}

// NonRetryRule はエラーが非リトライ対象かどうかを判定する。
type NonRetryRule func(error) bool

// MatchSubstring はエラーメッセージの部分一致（大文字小文字無視）で判定する
// NonRetryRuleを返す。
func MatchSubstring(substr string) NonRetryRule {
	lower := strings.ToLower(substr)
	return func(err error) bool {
		return strings.Contains(strings.ToLower(err.Error()), lower)
	}
}

// RetryableOperation は任意の失敗しうる操作を指数バックオフ付きリトライで包む。
//
// 遅延は min(BaseDelay * ExponentialBase^(試行-1), MaxDelay) に、
// リトライストームを避けるため遅延の[10%, 30%]の一様乱数ジッタを加える。
// 非リトライ対象セットに一致したエラーは即座に中断し、
// ErrSkippedNonRetryableでラップして返す。
type RetryableOperation struct {
	config       RetryConfig
	nonRetryable []NonRetryRule
	logger       *slog.Logger
}

// NewRetryableOperation はRetryableOperationの新しいインスタンスを生成する。
// 設定が不正な場合はデフォルト値で補正する。
func NewRetryableOperation(config RetryConfig, logger *slog.Logger, nonRetryable ...NonRetryRule) *RetryableOperation {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	if config.ExponentialBase <= 1 {
		config.ExponentialBase = 2.0
	}
	return &RetryableOperation{
		config:       config,
		nonRetryable: nonRetryable,
		logger:       logger,
	}
}

// Execute は操作をリトライ付きで実行する。
//
// 成功時はnilを返す（2回目以降の成功は回復としてログに残す）。
// 非リトライ対象エラーはErrSkippedNonRetryableでラップして即座に返す。
// 全試行が失敗した場合は最後のエラーを返す。
// コンテキストのキャンセルはバックオフ待機中も含めて即座に中断し、
// エラーとしてはログに残さない。
func (r *RetryableOperation) Execute(ctx context.Context, op func(context.Context) error, name string) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("操作がリトライで回復しました",
					slog.String("operation", name),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if r.isNonRetryable(err) {
			r.logger.Warn("非リトライ対象エラーのため操作をスキップします",
				slog.String("operation", name),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%w: %v", ErrSkippedNonRetryable, err)
		}

		lastErr = err
		if attempt == r.config.MaxAttempts {
			r.logger.Error("操作が全試行で失敗しました",
				slog.String("operation", name),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			break
		}

		delay := r.backoffDelay(attempt)
		r.logger.Warn("操作が失敗したためリトライします",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// backoffDelay は試行attemptの失敗後に待機する遅延をジッタ込みで計算する。
func (r *RetryableOperation) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(r.config.BaseDelay) * math.Pow(r.config.ExponentialBase, float64(attempt-1)))
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	jitter := time.Duration((0.1 + 0.2*rand.Float64()) * float64(delay))
	return delay + jitter
}

// isNonRetryable はエラーが非リトライ対象セットに一致するかを判定する。
func (r *RetryableOperation) isNonRetryable(err error) bool {
	for _, rule := range r.nonRetryable {
		if rule(err) {
			return true
		}
	}
	return false
}
