package model

import "time"

// Report is the final results record handed to the report assembler.
type Report struct {
	SessionID     string               `json:"session_id"`
	StartedAt     time.Time            `json:"started_at"`
	CompletedAt   time.Time            `json:"completed_at"`
	Demographics  Demographics         `json:"demographics"`
	Stages        []StageResult        `json:"stages"`
	DigitSpan     DigitSpanSummary     `json:"digit_span"`
	FreeRecall    FreeRecallSummary    `json:"free_recall"`
	OperationSpan OperationSpanSummary `json:"operation_span"`
	Argumentative WritingReport        `json:"argumentative"`
	Creative      WritingReport        `json:"creative"`
}

// DigitSpanSummary aggregates the digit-span battery.
type DigitSpanSummary struct {
	MaxSpan int `json:"max_span"`
	Passed  int `json:"passed"`
	Trials  int `json:"trials"`
}

// FreeRecallSummary aggregates the word-list trials.
type FreeRecallSummary struct {
	Matched int `json:"matched"`
	Targets int `json:"targets"`
	Wrong   int `json:"wrong"`
}

// OperationSpanSummary aggregates the operation-span battery.
type OperationSpanSummary struct {
	LettersCorrect  int `json:"letters_correct"`
	LettersPossible int `json:"letters_possible"`
	MathCorrect     int `json:"math_correct"`
	MathTotal       int `json:"math_total"`
	MathPercent     int `json:"math_percent"`
}

// WritingReport pairs a writing submission with its grading outcome.
// Outcome is nil when the submitted text was empty.
type WritingReport struct {
	Prompt    string          `json:"prompt"`
	Text      string          `json:"text"`
	WordCount int             `json:"word_count"`
	Outcome   *GradingOutcome `json:"outcome,omitempty"`
	Total     int             `json:"total"`
	MaxTotal  int             `json:"max_total"`
}

// ArchiveExport is the top-level JSON structure for archived report export.
type ArchiveExport struct {
	ExportedAt time.Time   `json:"exported_at"`
	Info       ArchiveInfo `json:"info"`
	Count      int         `json:"count"`
	Reports    []Report    `json:"reports"`
}

// ArchiveInfo describes how the archived sessions were administered.
type ArchiveInfo struct {
	PromptVariant string         `json:"prompt_variant,omitempty"`
	GradingModel  string         `json:"grading_model,omitempty"`
	Battery       *BatteryConfig `json:"battery,omitempty"`
}

// ArchivedReport is the listing entry for an archived report.
type ArchivedReport struct {
	SessionID   string    `json:"session_id"`
	Participant string    `json:"participant"`
	CompletedAt time.Time `json:"completed_at"`
}
