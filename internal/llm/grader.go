package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/cogbattery/internal/grading"
	"github.com/pavelanni/cogbattery/internal/llm/prompts"
	"github.com/pavelanni/cogbattery/internal/model"
	"github.com/pavelanni/cogbattery/internal/scoring"
)

const (
	gradeTemperature = 0.3
	gradeMaxTokens   = 1024
)

// Grader scores writing samples against the task rubrics.
type Grader struct {
	provider Provider
	prompts  *prompts.Set
	variant  prompts.PromptVariant
}

// NewGrader creates a grader. An invalid variant falls back to standard.
func NewGrader(p Provider, set *prompts.Set, variant prompts.PromptVariant) *Grader {
	if !prompts.IsValidVariant(string(variant)) {
		variant = prompts.PromptStandard
	}
	return &Grader{provider: p, prompts: set, variant: variant}
}

// Grade asks the model for rubric scores and checks the reply: exactly the
// task's dimensions, each an integer in 1..4, plus feedback.
func (g *Grader) Grade(ctx context.Context, req model.GradingRequest) (*model.GradingOutcome, error) {
	if scoring.IsBlank(req.Text) {
		return nil, ErrEmptyText
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", grading.ErrUnknownTask, req.Type)
	}

	userPrompt, err := g.prompts.BuildGradePrompt(g.variant, req)
	if err != nil {
		return nil, fmt.Errorf("build grading prompt: %w", err)
	}

	resp, err := g.provider.Generate(ctx, Request{
		System:      prompts.SystemPrompt(req.Type),
		Messages:    []Message{{Role: RoleUser, Content: userPrompt}},
		JSON:        true,
		MaxTokens:   gradeMaxTokens,
		Temperature: gradeTemperature,
	})
	if err != nil {
		return nil, err
	}

	out, err := grading.Validate(req.Type, resp.Content)
	if err != nil {
		if errors.Is(err, grading.ErrMalformed) {
			return nil, &ErrInvalidResponse{Content: resp.Content, Err: err}
		}
		return nil, err
	}
	return out, nil
}
