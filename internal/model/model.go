package model

import (
	"context"
	"time"
)

// Phase identifies the active stage of an assessment session.
type Phase string

const (
	PhaseIntake        Phase = "intake"
	PhaseDigitDisplay  Phase = "digit_display"
	PhaseDigitInput    Phase = "digit_input"
	PhaseWordDisplay   Phase = "word_display"
	PhaseWordRecall    Phase = "word_recall"
	PhaseEquation      Phase = "equation"
	PhaseLetterDisplay Phase = "letter_display"
	PhaseLetterRecall  Phase = "letter_recall"
	PhaseArgumentative Phase = "argumentative"
	PhaseCreative      Phase = "creative"
	PhaseGrading       Phase = "grading"
	PhaseThanks        Phase = "thanks"
	PhaseResults       Phase = "results"
)

// Timed reports whether the phase is governed by a countdown.
func (p Phase) Timed() bool {
	switch p {
	case PhaseDigitInput, PhaseWordRecall, PhaseEquation, PhaseLetterRecall,
		PhaseArgumentative, PhaseCreative:
		return true
	}
	return false
}

// StageKind names the scored task a stage result belongs to.
type StageKind string

const (
	StageDigitSpan     StageKind = "digit_span"
	StageFreeRecall    StageKind = "free_recall"
	StageOperationSpan StageKind = "operation_span"
	StageArgumentative StageKind = "argumentative"
	StageCreative      StageKind = "creative"
)

// TaskType is the writing task type understood by the grading gateway.
type TaskType string

const (
	TaskArgumentative TaskType = "argumentative"
	TaskCreative      TaskType = "creative"
)

// Valid reports whether t is a known writing task type.
func (t TaskType) Valid() bool {
	return t == TaskArgumentative || t == TaskCreative
}

// Demographics holds the participant intake form. Only presence and simple
// ranges are checked.
type Demographics struct {
	Name           string `json:"name" validate:"notblank"`
	Age            string `json:"age" validate:"notblank"`
	Sex            string `json:"sex" validate:"notblank"`
	Major          string `json:"major" validate:"notblank"`
	GPA            string `json:"gpa" validate:"notblank"`
	EnglishFluency int    `json:"english_fluency" validate:"min=1,max=5"`
	Languages      string `json:"languages"`
	ReadingFreq    int    `json:"reading_freq" validate:"min=1,max=7"`
	WritingFreq    int    `json:"writing_freq" validate:"min=1,max=7"`
}

// Equation is one arithmetic-judgment item of an operation-span trial.
type Equation struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// OperationSpanTrial is the stimulus for one operation-span set.
type OperationSpanTrial struct {
	Size      int        `json:"size"`
	Letters   []string   `json:"letters"`
	Equations []Equation `json:"equations"`
}

// DigitSpanScore is the scored outcome of one backward digit-span trial.
type DigitSpanScore struct {
	Level      int   `json:"level"`
	Sequence   []int `json:"sequence"`
	Reversed   []int `json:"reversed"`
	Response   []int `json:"response"`
	NumCorrect int   `json:"num_correct"`
	Correct    bool  `json:"correct"`
}

// FreeRecallScore is the scored outcome of one word-list recall trial.
type FreeRecallScore struct {
	Targets  []string `json:"targets"`
	Response string   `json:"response"`
	Matched  []string `json:"matched"`
	Missed   []string `json:"missed"`
	Wrong    []string `json:"wrong"`
}

// OperationSpanScore is the scored outcome of one operation-span set.
type OperationSpanScore struct {
	SetSize        int      `json:"set_size"`
	Letters        []string `json:"letters"`
	Recalled       []string `json:"recalled"`
	LettersCorrect int      `json:"letters_correct"`
	AllCorrect     bool     `json:"all_correct"`
	Judgments      []bool   `json:"judgments"`
	TimedOut       int      `json:"timed_out"`
	MathCorrect    int      `json:"math_correct"`
	MathTotal      int      `json:"math_total"`
	MathAccuracy   float64  `json:"math_accuracy"`
}

// WritingSubmission is the raw text captured for a writing stage.
type WritingSubmission struct {
	Task      TaskType `json:"task"`
	Prompt    string   `json:"prompt"`
	Text      string   `json:"text"`
	WordCount int      `json:"word_count"`
}

// StageResult is the append-only record of one completed stage instance.
// Exactly one of the score pointers is set, matching Stage.
type StageResult struct {
	Stage         StageKind           `json:"stage"`
	Trial         int                 `json:"trial"`
	Forced        bool                `json:"forced"`
	CompletedAt   time.Time           `json:"completed_at"`
	DigitSpan     *DigitSpanScore     `json:"digit_span,omitempty"`
	FreeRecall    *FreeRecallScore    `json:"free_recall,omitempty"`
	OperationSpan *OperationSpanScore `json:"operation_span,omitempty"`
	Writing       *WritingSubmission  `json:"writing,omitempty"`
}

// GradingRequest is the wire request sent to the grading gateway.
type GradingRequest struct {
	Type   TaskType `json:"type"`
	Prompt string   `json:"prompt"`
	Text   string   `json:"text"`
}

// GradingOutcome is the rubric scoring returned by the grading gateway.
type GradingOutcome struct {
	Scores   map[string]int `json:"scores"`
	Feedback string         `json:"feedback"`
}

// Total sums the rubric dimensions.
func (o *GradingOutcome) Total() int {
	if o == nil {
		return 0
	}
	total := 0
	for _, v := range o.Scores {
		total += v
	}
	return total
}

// BatteryConfig holds the fixed battery parameters for a session.
type BatteryConfig struct {
	DigitLevels         []int         `json:"digit_levels" validate:"dive,min=1,max=12"`
	DigitInputSeconds   int           `json:"digit_input_seconds" validate:"min=1"`
	WordLists           [][]string    `json:"word_lists"`
	WordDisplay         time.Duration `json:"word_display" validate:"gt=0"`
	WordRecallSeconds   int           `json:"word_recall_seconds" validate:"min=1"`
	OperationSetSizes   []int         `json:"operation_set_sizes" validate:"dive,min=1,max=12"`
	EquationSeconds     int           `json:"equation_seconds" validate:"min=1"`
	LetterDisplay       time.Duration `json:"letter_display" validate:"gt=0"`
	LetterRecallSeconds int           `json:"letter_recall_seconds" validate:"min=1"`
	ArgumentativePrompt string        `json:"argumentative_prompt" validate:"notblank"`
	CreativePrompt      string        `json:"creative_prompt" validate:"notblank"`
	WritingSeconds      int           `json:"writing_seconds" validate:"min=1"`
	Thanks              time.Duration `json:"thanks" validate:"gt=0"`
	Seed                uint64        `json:"seed"`
}

// DefaultWordList is the free-recall list used when none is configured.
var DefaultWordList = []string{
	"Umbrella", "Catalyst", "Harbor", "Lantern", "Velvet",
	"Orchard", "Compass", "Glacier", "Thimble", "Meadow",
}

// DefaultBatteryConfig returns the standard battery.
func DefaultBatteryConfig() BatteryConfig {
	return BatteryConfig{
		DigitLevels:         []int{5, 7, 9},
		DigitInputSeconds:   60,
		WordLists:           [][]string{DefaultWordList},
		WordDisplay:         1500 * time.Millisecond,
		WordRecallSeconds:   90,
		OperationSetSizes:   []int{5, 7, 9},
		EquationSeconds:     8,
		LetterDisplay:       1500 * time.Millisecond,
		LetterRecallSeconds: 60,
		ArgumentativePrompt: "Social media has done more harm than good to modern society.",
		CreativePrompt:      "Describe Red",
		WritingSeconds:      600,
		Thanks:              3500 * time.Millisecond,
	}
}

// ServerConfig holds runtime server parameters set via CLI flags.
type ServerConfig struct {
	BasePath          string        // URL prefix for sub-path deployments
	GradingTimeout    time.Duration // per gateway call
	GradingConcurrent bool          // issue both gateway calls at once
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}
