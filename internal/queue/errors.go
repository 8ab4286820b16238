package queue

import (
	"errors"
	"fmt"
	"time"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记为不可重试：任务直接进入 FAILED，不再走退避重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type retryAtError struct {
	at time.Time
}

func (e *retryAtError) Error() string {
	return fmt.Sprintf("任务未到执行时间，延后到 %s", e.at.Format(time.RFC3339))
}

// RetryAt 任务来早了，推迟到 at 再执行，不消耗重试次数
func RetryAt(at time.Time) error {
	return &retryAtError{at: at}
}

func retryAtOf(err error) (time.Time, bool) {
	var re *retryAtError
	if errors.As(err, &re) {
		return re.at, true
	}
	return time.Time{}, false
}
