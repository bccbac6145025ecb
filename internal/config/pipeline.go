package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed pipeline.yaml
var defaultPipeline []byte

// PipelineConfig — политики стадий: повторы шагов, срок ответа ревьюера,
// лимит доработок.
type PipelineConfig struct {
	Defaults PipelineDefaults             `yaml:"defaults"`
	Stages   map[domain.Stage]StageConfig `yaml:"stages"`
}

// PipelineDefaults — значения для всех стадий.
type PipelineDefaults struct {
	Retry domain.RetryPolicy `yaml:"retry"`
}

// StageConfig — настройки одной стадии.
type StageConfig struct {
	// ApprovalTimeout — срок ответа ревьюера. 0 — ждать без срока.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// MaxAttempts — лимит попыток стадии с доработками. 0 — без лимита.
	MaxAttempts int `yaml:"max_attempts"`

	Retry domain.RetryPolicy            `yaml:"retry"`
	Steps map[string]domain.RetryPolicy `yaml:"steps"`
}

// DefaultPipeline возвращает встроенные политики.
func DefaultPipeline() *PipelineConfig {
	p, err := ParsePipeline(defaultPipeline)
	if err != nil {
		panic("embedded pipeline.yaml: " + err.Error())
	}
	return p
}

// LoadPipeline читает политики из файла. Стадии из файла заменяют
// встроенные целиком, остальные остаются по умолчанию.
// Пустой path возвращает встроенные политики.
func LoadPipeline(path string) (*PipelineConfig, error) {
	if path == "" {
		return DefaultPipeline(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}

	p := DefaultPipeline()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParsePipeline разбирает YAML политик.
func ParsePipeline(data []byte) (*PipelineConfig, error) {
	var p PipelineConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate проверяет политики.
func (p *PipelineConfig) Validate() error {
	if err := p.retryDefaults().Validate(); err != nil {
		return fmt.Errorf("%w: defaults: %v", ErrInvalidPipeline, err)
	}

	for stage, sc := range p.Stages {
		if !stage.IsWork() {
			return fmt.Errorf("%w: unknown stage %q", ErrInvalidPipeline, stage)
		}
		if sc.ApprovalTimeout < 0 {
			return fmt.Errorf("%w: %s: approval_timeout must not be negative", ErrInvalidPipeline, stage)
		}
		if sc.MaxAttempts < 0 {
			return fmt.Errorf("%w: %s: max_attempts must not be negative", ErrInvalidPipeline, stage)
		}
		for step := range sc.Steps {
			if err := p.StepPolicy(stage, step).Validate(); err != nil {
				return fmt.Errorf("%w: %s/%s: %v", ErrInvalidPipeline, stage, step, err)
			}
		}
	}
	return nil
}

// StepPolicy возвращает политику повторов шага:
// встроенная → defaults → стадия → шаг.
func (p *PipelineConfig) StepPolicy(stage domain.Stage, step string) domain.RetryPolicy {
	policy := p.retryDefaults()
	sc, ok := p.Stages[stage]
	if !ok {
		return policy
	}
	policy = policy.Merge(sc.Retry)
	if override, ok := sc.Steps[step]; ok {
		policy = policy.Merge(override)
	}
	return policy
}

// Stage возвращает настройки стадии (нулевые, если стадия не описана).
func (p *PipelineConfig) Stage(stage domain.Stage) StageConfig {
	return p.Stages[stage]
}

func (p *PipelineConfig) retryDefaults() domain.RetryPolicy {
	return domain.DefaultRetryPolicy().Merge(p.Defaults.Retry)
}
