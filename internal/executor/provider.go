// Package executor — граница с физическим исполнителем действий.
// Ядро не знает, как именно кликается кнопка: оно отдает инструмент
// и payload провайдеру и принимает результат через SubmitResult.
package executor

import (
	"context"
	"fmt"
	"time"
)

// Provider физически исполняет один инструмент.
type Provider interface {
	Call(ctx context.Context, tool string, payload map[string]any) (map[string]any, error)
}

// ThrottleError сообщает retry-слою прочитанный из ответа Retry-After.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}
