package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/cogbattery/internal/battery"
	appI18n "github.com/pavelanni/cogbattery/internal/i18n"
	"github.com/pavelanni/cogbattery/internal/llm"
	"github.com/pavelanni/cogbattery/internal/model"
	"github.com/pavelanni/cogbattery/internal/timer"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type stubGrader struct {
	err error
}

func (g *stubGrader) Grade(_ context.Context, req model.GradingRequest) (*model.GradingOutcome, error) {
	if g.err != nil {
		return nil, g.err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, llm.ErrEmptyText
	}
	return &model.GradingOutcome{
		Scores:   map[string]int{"a": 4, "b": 3, "c": 3, "d": 2, "e": 2},
		Feedback: "Solid " + string(req.Type),
	}, nil
}

type stubArchive struct {
	reports map[string]model.Report
}

func (a *stubArchive) ListReports() ([]model.ArchivedReport, error) {
	var out []model.ArchivedReport
	for id, r := range a.reports {
		out = append(out, model.ArchivedReport{SessionID: id, Participant: r.Demographics.Name, CompletedAt: r.CompletedAt})
	}
	return out, nil
}

func (a *stubArchive) GetReport(id string) (*model.Report, error) {
	r, ok := a.reports[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

type testServer struct {
	srv    *httptest.Server
	runner *battery.Runner
	clock  *timer.ManualClock
}

func testBattery() model.BatteryConfig {
	cfg := model.DefaultBatteryConfig()
	cfg.DigitLevels = []int{3}
	cfg.OperationSetSizes = []int{2}
	cfg.WordLists = [][]string{{"Harbor", "Velvet", "Meadow"}}
	cfg.Seed = 7
	return cfg
}

func newTestServer(t *testing.T, grader battery.Grader, archive ReportArchive) *testServer {
	t.Helper()
	clk := timer.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	runner, err := battery.NewRunner(testBattery(), grader, battery.WithClock(clk))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	h, err := New(runner, grader, archive, model.ServerConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		runner.Close()
	})
	return &testServer{srv: srv, runner: runner, clock: clk}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp, out
}

func (ts *testServer) advanceTo(t *testing.T, phase model.Phase) {
	t.Helper()
	for i := 0; i < 20000; i++ {
		if ts.runner.Snapshot().Phase == phase {
			return
		}
		ts.clock.Advance(250 * time.Millisecond)
	}
	t.Fatalf("never reached %s", phase)
}

var demographics = model.Demographics{
	Name: "Ada", Age: "21", Sex: "F", Major: "Math", GPA: "3.9",
	EnglishFluency: 5, ReadingFreq: 4, WritingFreq: 3,
}

func TestSessionSnapshot(t *testing.T) {
	ts := newTestServer(t, &stubGrader{}, nil)

	resp, body := ts.do(t, http.MethodGet, "/api/session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["phase"] != "intake" || body["phase_label"] != "About you" {
		t.Errorf("snapshot = %v", body)
	}
	if body["session_id"] == "" {
		t.Error("missing session id")
	}
}

func TestBeginValidation(t *testing.T) {
	ts := newTestServer(t, &stubGrader{}, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/session/begin", model.Demographics{Name: "Ada"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	fields, _ := body["fields"].([]any)
	if len(fields) == 0 {
		t.Errorf("expected field errors, got %v", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/session/begin", demographics)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["phase"] != string(model.PhaseDigitDisplay) {
		t.Errorf("phase = %v", body["phase"])
	}
}

func TestErrorStatus(t *testing.T) {
	ts := newTestServer(t, &stubGrader{}, nil)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"wrong phase", "/api/session/digits", map[string]string{"input": "123"}, http.StatusConflict},
		{"missing answer", "/api/session/judgment", map[string]string{}, http.StatusBadRequest},
		{"bad json", "/api/session/recall", "{", http.StatusBadRequest},
		{"report not ready", "/api/session/report", nil, http.StatusNotFound},
		{"archive disabled", "/api/archive", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if tt.body == nil {
				method = http.MethodGet
			}
			resp, body := ts.do(t, method, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if msg, _ := body["error"].(string); msg == "" {
				t.Errorf("missing error message: %v", body)
			}
		})
	}
}

func TestDigitEntryRejected(t *testing.T) {
	ts := newTestServer(t, &stubGrader{}, nil)
	ts.do(t, http.MethodPost, "/api/session/begin", demographics)
	ts.advanceTo(t, model.PhaseDigitInput)

	resp, _ := ts.do(t, http.MethodPost, "/api/session/digits", map[string]string{"input": "12a"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	_, body := ts.do(t, http.MethodGet, "/api/session", nil)
	if body["phase"] != string(model.PhaseDigitInput) || body["clock"] != "01:00" {
		t.Errorf("state changed after rejection: %v", body)
	}
}

func TestFullRunThroughAPI(t *testing.T) {
	ts := newTestServer(t, &stubGrader{}, nil)
	ts.do(t, http.MethodPost, "/api/session/begin", demographics)
	ts.advanceTo(t, model.PhaseArgumentative)

	resp, body := ts.do(t, http.MethodPost, "/api/session/draft", map[string]string{"text": "Draft"})
	if resp.StatusCode != http.StatusOK || body["draft"] != "Draft" {
		t.Fatalf("draft: %d %v", resp.StatusCode, body)
	}
	ts.do(t, http.MethodPost, "/api/session/writing", map[string]string{"text": "Social media isolates people."})
	resp, _ = ts.do(t, http.MethodPost, "/api/session/writing", map[string]string{"text": "Red is a warning."})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("creative status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for ts.runner.Snapshot().Phase != model.PhaseThanks && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	ts.clock.Advance(4 * time.Second)

	resp, body = ts.do(t, http.MethodGet, "/api/session/report", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report status = %d", resp.StatusCode)
	}
	arg := body["argumentative"].(map[string]any)
	if arg["total"] != float64(14) || arg["max_total"] != float64(20) {
		t.Errorf("argumentative = %v", arg)
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/session/report.xlsx", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("xlsx status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("xlsx content type = %q", ct)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/session/retake", nil)
	if resp.StatusCode != http.StatusOK || body["phase"] != "intake" {
		t.Errorf("retake: %d %v", resp.StatusCode, body)
	}
}

func TestGradeEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		grader  *stubGrader
		req     model.GradingRequest
		status  int
		wantErr string
	}{
		{"graded", &stubGrader{}, model.GradingRequest{Type: model.TaskCreative, Prompt: "Describe Red", Text: "Red."}, http.StatusOK, ""},
		{"blank text", &stubGrader{}, model.GradingRequest{Type: model.TaskCreative, Text: "  "}, http.StatusBadRequest, "No text provided"},
		{"gateway failure", &stubGrader{err: errors.New("Rate limit reached for gpt-4o-mini")}, model.GradingRequest{Type: model.TaskArgumentative, Text: "x"}, http.StatusInternalServerError, "Rate limit reached for gpt-4o-mini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.grader, nil)
			resp, body := ts.do(t, http.MethodPost, "/api/grade", tt.req)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.wantErr != "" {
				if body["error"] != tt.wantErr {
					t.Errorf("error = %v, want %q", body["error"], tt.wantErr)
				}
				return
			}
			scores, _ := body["scores"].(map[string]any)
			if len(scores) != 5 || body["feedback"] != "Solid creative" {
				t.Errorf("outcome = %v", body)
			}
		})
	}
}

func TestGradeEndpointWithoutGrader(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	resp, _ := ts.do(t, http.MethodPost, "/api/grade", model.GradingRequest{Type: model.TaskCreative, Text: "x"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestArchiveRoutes(t *testing.T) {
	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	archive := &stubArchive{reports: map[string]model.Report{
		"s-1": {SessionID: "s-1", CompletedAt: done, Demographics: model.Demographics{Name: "Ada"}},
		"s-2": {SessionID: "s-2", CompletedAt: done, Demographics: model.Demographics{Name: "Grace"}},
	}}
	ts := newTestServer(t, &stubGrader{}, archive)

	resp, body := ts.do(t, http.MethodGet, "/api/archive", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["summary"] != "2 reports archived." {
		t.Errorf("summary = %v", body["summary"])
	}
	if reports, _ := body["reports"].([]any); len(reports) != 2 {
		t.Errorf("reports = %v", body["reports"])
	}

	resp, body = ts.do(t, http.MethodGet, "/api/archive/s-2", nil)
	if resp.StatusCode != http.StatusOK || body["session_id"] != "s-2" {
		t.Errorf("get s-2: %d %v", resp.StatusCode, body)
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/archive/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/archive/s-1/report.xlsx", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("xlsx status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "report-s-1.xlsx") {
		t.Errorf("content disposition = %q", cd)
	}
}

func TestLocalizeGradingFailure(t *testing.T) {
	v := battery.View{
		Phase: model.PhaseGrading,
		Status: &battery.Status{
			Progress: 55,
			Message:  battery.MsgGradingFailed,
			Task:     model.TaskArgumentative,
			Error:    "upstream 502",
			Halted:   true,
		},
	}
	tests := []struct {
		lang string
		want string
	}{
		{"en", "Grading the argumentative writing failed: upstream 502"},
		{"ru", "Ошибка оценивания (аргументативный текст): upstream 502"},
	}
	for _, tt := range tests {
		ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(tt.lang))
		if got := localizeView(ctx, v).StatusText; got != tt.want {
			t.Errorf("%s: status_text = %q, want %q", tt.lang, got, tt.want)
		}
	}
}
