package engine

import (
	"errors"
	"fmt"
)

// Ошибки движка.
var (
	// ErrSignalTimeout — дедлайн ожидания сигнала истёк.
	ErrSignalTimeout = errors.New("signal wait timed out")

	// ErrNoWaiter — сейчас никто не ждёт сигнал с таким именем.
	ErrNoWaiter = errors.New("no waiter for signal")

	// ErrAlreadyWaiting — сигнал с таким именем уже ожидается.
	ErrAlreadyWaiting = errors.New("signal already awaited")

	// ErrMailboxFull — очередь сигналов ожидающего переполнена.
	ErrMailboxFull = errors.New("signal mailbox full")

	// ErrHistoryMismatch — событие в истории не соответствует коду.
	ErrHistoryMismatch = errors.New("history does not match execution")
)

// RecordedFailure — неуспешный шаг, восстановленный из истории.
type RecordedFailure struct {
	Step     string
	Attempts int
	Message  string
}

// Error реализует интерфейс error.
func (e *RecordedFailure) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %s", e.Step, e.Attempts, e.Message)
}
