package store

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/cogbattery/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testReport(id, name string, completed time.Time) model.Report {
	return model.Report{
		SessionID:    id,
		StartedAt:    completed.Add(-40 * time.Minute),
		CompletedAt:  completed,
		Demographics: model.Demographics{Name: name, Age: "20", Sex: "M", Major: "Physics", GPA: "3.1", EnglishFluency: 4, ReadingFreq: 2, WritingFreq: 2},
		Stages: []model.StageResult{{
			Stage:       model.StageDigitSpan,
			CompletedAt: completed.Add(-35 * time.Minute),
			DigitSpan:   &model.DigitSpanScore{Level: 5, Sequence: []int{1, 2, 3, 4, 5}, Reversed: []int{5, 4, 3, 2, 1}, Response: []int{5, 4, 3, 2, 1}, NumCorrect: 5, Correct: true},
		}},
		DigitSpan: model.DigitSpanSummary{MaxSpan: 5, Passed: 1, Trials: 1},
		Argumentative: model.WritingReport{
			Prompt:    "Social media has done more harm than good to modern society.",
			Text:      "It has.",
			WordCount: 2,
			Outcome:   &model.GradingOutcome{Scores: map[string]int{"thesis_focus": 2}, Feedback: "Thin."},
			Total:     2,
			MaxTotal:  20,
		},
		Creative: model.WritingReport{Prompt: "Describe Red", MaxTotal: 20},
	}
}

func TestReportRoundTrip(t *testing.T) {
	s := newTestStore(t)

	n, err := s.ReportCount()
	if err != nil {
		t.Fatalf("ReportCount: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 reports, got %d", n)
	}

	completed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	want := testReport("s-1", "Ada", completed)
	if err := s.SaveReport(want); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := s.GetReport("s-1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got == nil {
		t.Fatal("expected report, got nil")
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	missing, err := s.GetReport("nope")
	if err != nil || missing != nil {
		t.Errorf("GetReport(nope) = %v, %v; want nil, nil", missing, err)
	}
}

func TestSaveReportReplaces(t *testing.T) {
	s := newTestStore(t)
	completed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	r := testReport("s-1", "Ada", completed)
	if err := s.SaveReport(r); err != nil {
		t.Fatal(err)
	}
	r.Demographics.Name = "Ada L."
	if err := s.SaveReport(r); err != nil {
		t.Fatalf("SaveReport again: %v", err)
	}

	n, _ := s.ReportCount()
	if n != 1 {
		t.Errorf("expected 1 report after replace, got %d", n)
	}
	got, _ := s.GetReport("s-1")
	if got.Demographics.Name != "Ada L." {
		t.Errorf("name = %q", got.Demographics.Name)
	}
}

func TestListReportsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i, name := range []string{"Ada", "Grace", "Edsger"} {
		id := string(rune('a' + i))
		if err := s.SaveReport(testReport(id, name, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListReports()
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	var names []string
	for _, a := range list {
		names = append(names, a.Participant)
	}
	if diff := cmp.Diff([]string{"Edsger", "Grace", "Ada"}, names); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if !list[0].CompletedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("completed_at = %v", list[0].CompletedAt)
	}
}

func TestArchiveInfo(t *testing.T) {
	s := newTestStore(t)

	// Missing keys read back as empty.
	info, err := s.GetArchiveInfo()
	if err != nil {
		t.Fatalf("GetArchiveInfo: %v", err)
	}
	if info.PromptVariant != "" || info.Battery != nil {
		t.Errorf("expected empty info, got %+v", info)
	}

	cfg := model.DefaultBatteryConfig()
	want := model.ArchiveInfo{PromptVariant: "strict", GradingModel: "gpt-4o-mini", Battery: &cfg}
	if err := s.SetArchiveInfo(want); err != nil {
		t.Fatalf("SetArchiveInfo: %v", err)
	}
	got, err := s.GetArchiveInfo()
	if err != nil {
		t.Fatalf("GetArchiveInfo: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("info mismatch (-want +got):\n%s", diff)
	}

	// Update existing.
	if err := s.SetMetadata("prompt_variant", "lenient"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	v, _ := s.GetMetadata("prompt_variant")
	if v != "lenient" {
		t.Errorf("expected 'lenient', got %q", v)
	}
}

func TestExportAll(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s.SaveReport(testReport("late", "Grace", base.Add(time.Hour)))
	s.SaveReport(testReport("early", "Ada", base))
	s.SetArchiveInfo(model.ArchiveInfo{PromptVariant: "standard"})

	exp, err := s.ExportAll()
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if exp.Count != 2 || len(exp.Reports) != 2 {
		t.Fatalf("count = %d, reports = %d", exp.Count, len(exp.Reports))
	}
	if exp.Reports[0].SessionID != "early" || exp.Reports[1].SessionID != "late" {
		t.Errorf("export order = %s, %s", exp.Reports[0].SessionID, exp.Reports[1].SessionID)
	}
	if exp.Info.PromptVariant != "standard" {
		t.Errorf("info = %+v", exp.Info)
	}
}
