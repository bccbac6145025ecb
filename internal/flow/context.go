package flow

import (
	"log/slog"
	"slices"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/engine"
)

// StageContext — то, что видит тело стадии в одной попытке.
//
// Feedback — последний feedback ревьюера (пусто в первой попытке),
// FeedbackHistory — весь накопленный feedback по порядку.
type StageContext struct {
	Stage           domain.Stage
	Attempt         int
	Feedback        string
	FeedbackHistory []string

	rt *engine.Runtime
}

// NewStageContext создаёт контекст попытки поверх scope rt.
func NewStageContext(rt *engine.Runtime, feedbackHistory []string) *StageContext {
	sc := &StageContext{
		Stage:           rt.Stage(),
		Attempt:         rt.Attempt(),
		FeedbackHistory: slices.Clone(feedbackHistory),
		rt:              rt,
	}
	if n := len(feedbackHistory); n > 0 {
		sc.Feedback = feedbackHistory[n-1]
	}
	return sc
}

// Runtime возвращает durable scope попытки.
func (sc *StageContext) Runtime() *engine.Runtime {
	return sc.rt
}

// Logger возвращает логгер с атрибутами стадии и попытки.
func (sc *StageContext) Logger() *slog.Logger {
	return sc.rt.Logger().With("stage", sc.Stage, "attempt", sc.Attempt)
}

// Child возвращает контекст дочернего scope с тем же feedback.
func (sc *StageContext) Child(name string) *StageContext {
	child := *sc
	child.rt = sc.rt.StartChild(name)
	return &child
}
