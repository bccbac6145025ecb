package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"golang.org/x/sync/errgroup"
)

// SubTask — одна ветка fan-out.
type SubTask[I, O any] struct {
	Name string
	Run  func(ctx context.Context, sc *StageContext, in I) (O, error)
}

// subTaskKey — имя записи итога ветки внутри scope попытки.
func subTaskKey(name string) string {
	return "subtask-" + name
}

// FanOut запускает все ветки параллельно и ждёт их завершения.
//
// Падение одной ветки не отменяет остальные. Каждая ветка выполняется в
// дочернем scope со своим именем и пишет только свой слот. Если упала
// хотя бы одна ветка, возвращается *PartialFailureError с результатами
// успешных веток.
func FanOut[I, O any](ctx context.Context, sc *StageContext, in I, tasks []SubTask[I, O]) (map[string]O, error) {
	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if _, dup := seen[task.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSubTask, task.Name)
		}
		seen[task.Name] = struct{}{}
	}

	type slot struct {
		out O
		err error
	}
	slots := make([]slot, len(tasks))

	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			out, err := task.Run(ctx, sc.Child(task.Name), in)
			slots[i] = slot{out: out, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	logger := sc.Logger()
	results := make(map[string]O, len(tasks))
	var failed []string
	causes := make(map[string]error)

	for i, task := range tasks {
		s := slots[i]
		rec := domain.SubTaskResult{Name: task.Name}
		typ := domain.EventSubTaskCompleted

		if s.err != nil {
			rec.Error = s.err.Error()
			typ = domain.EventSubTaskFailed
			failed = append(failed, task.Name)
			causes[task.Name] = s.err
		} else {
			raw, err := json.Marshal(s.out)
			if err != nil {
				return nil, fmt.Errorf("marshal subtask %s output: %w", task.Name, err)
			}
			rec.Output = raw
			results[task.Name] = s.out
		}

		if _, err := sc.rt.Record(ctx, typ, subTaskKey(task.Name), rec); err != nil {
			return nil, err
		}
	}

	if len(failed) == 0 {
		return results, nil
	}

	slices.Sort(failed)
	succeeded := make(map[string]any, len(results))
	for name, out := range results {
		succeeded[name] = out
	}

	logger.Warn("fan-out partially failed", "failed", failed, "succeeded", len(succeeded))

	return results, &PartialFailureError{
		Failed:    failed,
		Succeeded: succeeded,
		Causes:    causes,
	}
}
