package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/cogbattery/internal/grading"
	"github.com/pavelanni/cogbattery/internal/model"
)

// Sheet names in workbook order.
const (
	SheetParticipant   = "Participant"
	SheetDigitSpan     = "Digit Span"
	SheetWordRecall    = "Word Recall"
	SheetOperationSpan = "Operation Span"
	SheetWriting       = "Writing"
)

// WriteXLSX renders one or more reports as a workbook with a row per
// participant, trial or writing task.
func WriteXLSX(w io.Writer, reports ...model.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetParticipant); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetDigitSpan, SheetWordRecall, SheetOperationSpan, SheetWriting} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %q: %w", name, err)
		}
	}

	sheets := newSheetWriter(f)
	sheets.row(SheetParticipant, "Session", "Name", "Age", "Sex", "Major", "GPA",
		"English fluency", "Languages", "Reading freq", "Writing freq",
		"Started", "Completed", "Max span", "Recall matched", "Recall targets",
		"Letters correct", "Letters possible", "Math %", "Argumentative", "Creative")
	sheets.row(SheetDigitSpan, "Session", "Trial", "Level", "Sequence", "Response", "Positions correct", "Correct", "Timed out")
	sheets.row(SheetWordRecall, "Session", "Trial", "Matched", "Missed", "Wrong", "Response", "Timed out")
	sheets.row(SheetOperationSpan, "Session", "Trial", "Set size", "Letters", "Recalled", "Letters correct", "Math correct", "Math total", "Judgments timed out", "Timed out")
	header := []any{"Session", "Task", "Prompt", "Words", "Text", "Total", "Max", "Feedback"}
	for _, d := range grading.Dimensions(model.TaskArgumentative) {
		header = append(header, d.Label)
	}
	for _, d := range grading.Dimensions(model.TaskCreative) {
		header = append(header, d.Label)
	}
	sheets.row(SheetWriting, header...)

	for _, r := range reports {
		writeReport(sheets, r)
	}
	if sheets.err != nil {
		return sheets.err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeReport(s *sheetWriter, r model.Report) {
	d := r.Demographics
	s.row(SheetParticipant, r.SessionID, d.Name, d.Age, d.Sex, d.Major, d.GPA,
		d.EnglishFluency, d.Languages, d.ReadingFreq, d.WritingFreq,
		formatTime(r.StartedAt), formatTime(r.CompletedAt), r.DigitSpan.MaxSpan,
		r.FreeRecall.Matched, r.FreeRecall.Targets,
		r.OperationSpan.LettersCorrect, r.OperationSpan.LettersPossible, r.OperationSpan.MathPercent,
		totalCell(r.Argumentative), totalCell(r.Creative))

	for _, st := range r.Stages {
		switch {
		case st.DigitSpan != nil:
			ds := st.DigitSpan
			s.row(SheetDigitSpan, r.SessionID, st.Trial+1, ds.Level, joinInts(ds.Sequence),
				joinInts(ds.Response), ds.NumCorrect, ds.Correct, st.Forced)
		case st.FreeRecall != nil:
			fr := st.FreeRecall
			s.row(SheetWordRecall, r.SessionID, st.Trial+1, strings.Join(fr.Matched, ", "),
				strings.Join(fr.Missed, ", "), strings.Join(fr.Wrong, ", "), fr.Response, st.Forced)
		case st.OperationSpan != nil:
			sp := st.OperationSpan
			s.row(SheetOperationSpan, r.SessionID, st.Trial+1, sp.SetSize, strings.Join(sp.Letters, " "),
				strings.Join(sp.Recalled, " "), sp.LettersCorrect, sp.MathCorrect, sp.MathTotal, sp.TimedOut, st.Forced)
		}
	}

	writingRow(s, r.SessionID, model.TaskArgumentative, r.Argumentative)
	writingRow(s, r.SessionID, model.TaskCreative, r.Creative)
}

func writingRow(s *sheetWriter, session string, task model.TaskType, wr model.WritingReport) {
	feedback := ""
	if wr.Outcome != nil {
		feedback = wr.Outcome.Feedback
	}
	row := []any{session, string(task), wr.Prompt, wr.WordCount, wr.Text, totalCell(wr), wr.MaxTotal, feedback}
	for _, t := range []model.TaskType{model.TaskArgumentative, model.TaskCreative} {
		for _, d := range grading.Dimensions(t) {
			if t != task || wr.Outcome == nil {
				row = append(row, "")
				continue
			}
			row = append(row, wr.Outcome.Scores[d.Key])
		}
	}
	s.row(SheetWriting, row...)
}

// totalCell leaves ungraded writing empty rather than reporting zero.
func totalCell(wr model.WritingReport) any {
	if wr.Outcome == nil {
		return ""
	}
	return wr.Total
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func joinInts(v []int) string {
	var b strings.Builder
	for _, d := range v {
		b.WriteString(strconv.Itoa(d))
	}
	return b.String()
}

// sheetWriter appends rows per sheet and keeps the first error.
type sheetWriter struct {
	f    *excelize.File
	next map[string]int
	err  error
}

func newSheetWriter(f *excelize.File) *sheetWriter {
	return &sheetWriter{f: f, next: make(map[string]int)}
}

func (s *sheetWriter) row(sheet string, values ...any) {
	if s.err != nil {
		return
	}
	s.next[sheet]++
	cell, err := excelize.CoordinatesToCellName(1, s.next[sheet])
	if err != nil {
		s.err = fmt.Errorf("cell name: %w", err)
		return
	}
	if err := s.f.SetSheetRow(sheet, cell, &values); err != nil {
		s.err = fmt.Errorf("write %s row %d: %w", sheet, s.next[sheet], err)
	}
}
