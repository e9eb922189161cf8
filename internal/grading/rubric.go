// Package grading holds the grading gateway contract: rubric dimensions,
// response validation and an HTTP client for a remote gateway.
package grading

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pavelanni/cogbattery/internal/model"
)

const (
	MinScore = 1
	MaxScore = 4
)

// Dimension is one named rubric criterion. Levels describes the scores
// from MaxScore down to MinScore.
type Dimension struct {
	Key    string
	Label  string
	Levels [MaxScore - MinScore + 1]string
}

var dimensions = map[model.TaskType][]Dimension{
	model.TaskArgumentative: {
		{"thesis_focus", "Thesis & Focus", [4]string{
			"Clear, arguable, focused thesis",
			"Clear thesis, may be broad",
			"Unclear or non-arguable thesis",
			"No discernible thesis",
		}},
		{"evidence_support", "Evidence & Support", [4]string{
			"Strong, relevant, well-explained",
			"Relevant but may lack explanation",
			"Weak or irrelevant",
			"No evidence provided",
		}},
		{"structure_coherence", "Structure & Coherence", [4]string{
			"Logical, clear flow with effective transitions",
			"Generally organized, some lapses",
			"Disorganized or difficult to follow",
			"Lacks any clear structure",
		}},
		{"syntax_fluency", "Syntax & Fluency", [4]string{
			"Varied, complex sentences; flows smoothly",
			"Mostly clear, some variety",
			"Simple, repetitive, or awkward",
			"Incoherent sentences",
		}},
		{"word_choice", "Word Choice", [4]string{
			"Precise, persuasive, appropriate language",
			"Appropriate but general",
			"Vague or inappropriate",
			"Severely limited vocabulary",
		}},
	},
	model.TaskCreative: {
		{"originality", "Originality", [4]string{
			"Highly imaginative and unconventional concept",
			"Conventional concept with unique elements",
			"Predictable or clichéd",
			"Lacks any originality",
		}},
		{"imagery_detail", "Imagery & Detail", [4]string{
			"Rich, specific sensory details create a vivid world",
			"Uses general sensory details",
			"Minimal or generic details",
			"No sensory details",
		}},
		{"narrative_structure", "Narrative Structure", [4]string{
			"Coherent plot with clear setup and progression",
			"Basic plot present but may be underdeveloped",
			"Plot is confusing or disjointed",
			"No discernible plot",
		}},
		{"figurative_language", "Figurative Language", [4]string{
			"Effective and original use of metaphor, simile, etc.",
			"Uses simple or common figurative language",
			"Figurative language is weak or misused",
			"No figurative language",
		}},
		{"pacing_rhythm", "Pacing & Rhythm", [4]string{
			"Sentence structure is varied to control pacing and mood",
			"Some variation in sentence structure",
			"Monotonous or awkward sentence structure",
			"Incoherent sentences",
		}},
	},
}

// Dimensions returns the rubric dimensions for a task type in display order.
func Dimensions(task model.TaskType) []Dimension {
	return append([]Dimension(nil), dimensions[task]...)
}

// MaxTotal is the highest possible rubric total for a task type.
func MaxTotal(task model.TaskType) int {
	return len(dimensions[task]) * MaxScore
}

// ErrMalformed indicates a gateway payload that does not satisfy the rubric.
var ErrMalformed = errors.New("malformed grading response")

// ErrUnknownTask is returned for task types without a rubric.
var ErrUnknownTask = errors.New("unknown writing task type")

// SchemaDefinition returns the JSON Schema for a task type's success payload.
func SchemaDefinition(task model.TaskType) map[string]any {
	props := map[string]any{}
	required := []any{}
	for _, d := range dimensions[task] {
		props[d.Key] = map[string]any{
			"type":    "integer",
			"minimum": MinScore,
			"maximum": MaxScore,
		}
		required = append(required, d.Key)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scores": map[string]any{
				"type":                 "object",
				"properties":           props,
				"required":             required,
				"additionalProperties": false,
			},
			"feedback": map[string]any{"type": "string"},
		},
		"required": []any{"scores", "feedback"},
	}
}

var schemaCache sync.Map // map[model.TaskType]*jsonschema.Schema

func compiledSchema(task model.TaskType) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(task); ok {
		return cached.(*jsonschema.Schema), nil
	}

	// The compiler wants a generic JSON document, so round-trip the map.
	defBytes, err := json.Marshal(SchemaDefinition(task))
	if err != nil {
		return nil, fmt.Errorf("marshal schema definition: %w", err)
	}
	var doc any
	if err := json.Unmarshal(defBytes, &doc); err != nil {
		return nil, fmt.Errorf("parse schema definition: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("schema://grading-%s.json", task)
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	schemaCache.Store(task, compiled)
	return compiled, nil
}

// Validate parses a success payload and checks it against the rubric for
// task: exactly the task's dimensions, each an integer in [1,4].
func Validate(task model.TaskType, raw []byte) (*model.GradingOutcome, error) {
	if !task.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformed, err)
	}
	schema, err := compiledSchema(task)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", task, err)
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var out model.GradingOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &out, nil
}
