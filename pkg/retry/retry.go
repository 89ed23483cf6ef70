package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"
)

// ErrExhausted は試行回数を使い切ったことを表す
var ErrExhausted = errors.New("retry attempts exhausted")

// Config はリトライの設定を保持する
type Config struct {
	Attempts     int
	BaseInterval time.Duration
	MaxBackoff   time.Duration
}

// DefaultConfig はデフォルトのリトライ設定を返す
func DefaultConfig() Config {
	return Config{
		Attempts:     5,
		BaseInterval: 200 * time.Millisecond,
		MaxBackoff:   5 * time.Second,
	}
}

// Backoff は指数バックオフ + ジッターを計算する
func Backoff(attempt int, baseInterval, maxBackoff time.Duration) time.Duration {
	d := maxBackoff
	if attempt < 32 {
		if shifted := baseInterval << attempt; shifted > 0 && shifted < maxBackoff {
			d = shifted
		}
	}
	// -10%..+10% jitter
	return time.Duration(int64(d) * int64(9+rand.Intn(3)) / 10)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はリトライしても成功しないエラーを包む
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ShouldRetry はエラーに基づいてリトライすべきか判定する
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var p *permanentError
	if errors.As(err, &p) {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

// Do は fn が成功するか、リトライ不可のエラーを返すか、試行回数を使い切るまで
// バックオフを挟んで fn を繰り返す
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	var lastErr error

	for i := range max(cfg.Attempts, 1) {
		if i > 0 {
			timer := time.NewTimer(Backoff(i-1, cfg.BaseInterval, cfg.MaxBackoff))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		lastErr = fn(i)
		if lastErr == nil {
			return nil
		}

		if !ShouldRetry(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
