package campaign

import (
	"errors"
	"fmt"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// ErrCampaignFailed — кампания завершилась неуспешно.
var ErrCampaignFailed = errors.New("campaign failed")

// FailedError — итог неуспешной кампании: на какой стадии и почему.
type FailedError struct {
	Stage   domain.Stage
	Attempt int
	Kind    domain.FailureKind
	Cause   error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("campaign failed at %s (attempt %d, %s): %v", e.Stage, e.Attempt, e.Kind, e.Cause)
}

// Is позволяет сравнивать с ErrCampaignFailed.
func (e *FailedError) Is(target error) bool {
	return target == ErrCampaignFailed
}

// Unwrap возвращает ошибку стадии.
func (e *FailedError) Unwrap() error {
	return e.Cause
}
