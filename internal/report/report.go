// Package report assembles the final results record and renders it as
// JSON or as an Excel workbook.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pavelanni/cogbattery/internal/grading"
	"github.com/pavelanni/cogbattery/internal/model"
	"github.com/pavelanni/cogbattery/internal/scoring"
)

// Input is everything a finished session contributes to its report.
type Input struct {
	SessionID    string
	StartedAt    time.Time
	CompletedAt  time.Time
	Demographics model.Demographics
	Stages       []model.StageResult
	Outcomes     map[model.TaskType]*model.GradingOutcome
}

// Assemble builds the report. Stages keep their completion order; a writing
// task without an outcome (blank text) is reported with a nil Outcome.
func Assemble(in Input) model.Report {
	r := model.Report{
		SessionID:    in.SessionID,
		StartedAt:    in.StartedAt,
		CompletedAt:  in.CompletedAt,
		Demographics: in.Demographics,
		Stages:       append([]model.StageResult{}, in.Stages...),
	}

	var digits []model.DigitSpanScore
	var ospan []model.OperationSpanScore
	for _, st := range in.Stages {
		switch {
		case st.DigitSpan != nil:
			digits = append(digits, *st.DigitSpan)
		case st.FreeRecall != nil:
			r.FreeRecall.Matched += len(st.FreeRecall.Matched)
			r.FreeRecall.Targets += len(st.FreeRecall.Targets)
			r.FreeRecall.Wrong += len(st.FreeRecall.Wrong)
		case st.OperationSpan != nil:
			ospan = append(ospan, *st.OperationSpan)
		case st.Writing != nil:
			wr := writingReport(st.Writing, in.Outcomes[st.Writing.Task])
			if st.Writing.Task == model.TaskCreative {
				r.Creative = wr
			} else {
				r.Argumentative = wr
			}
		}
	}

	r.DigitSpan = model.DigitSpanSummary{MaxSpan: scoring.BestSpan(digits), Trials: len(digits)}
	for _, d := range digits {
		if d.Correct {
			r.DigitSpan.Passed++
		}
	}
	r.OperationSpan = scoring.OperationSpanTotals(ospan)
	return r
}

func writingReport(w *model.WritingSubmission, out *model.GradingOutcome) model.WritingReport {
	return model.WritingReport{
		Prompt:    w.Prompt,
		Text:      w.Text,
		WordCount: w.WordCount,
		Outcome:   out,
		Total:     out.Total(),
		MaxTotal:  grading.MaxTotal(w.Task),
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r model.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
