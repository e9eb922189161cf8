package battery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/pavelanni/cogbattery/internal/model"
	"github.com/pavelanni/cogbattery/internal/timer"
)

type fakeGrader struct {
	mu    sync.Mutex
	calls []model.GradingRequest
	err   error
	block bool

	// failTask limits err to one task when set.
	failTask model.TaskType
}

func (g *fakeGrader) Grade(ctx context.Context, req model.GradingRequest) (*model.GradingOutcome, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	err, block := g.err, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil && (g.failTask == "" || g.failTask == req.Type) {
		return nil, err
	}
	scores := map[string]int{}
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		scores[key] = 3
	}
	return &model.GradingOutcome{Scores: scores, Feedback: "ok " + string(req.Type)}, nil
}

func (g *fakeGrader) requests() []model.GradingRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.GradingRequest(nil), g.calls...)
}

type memArchive struct {
	mu      sync.Mutex
	reports []model.Report
}

func (a *memArchive) SaveReport(r model.Report) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, r)
	return nil
}

func (a *memArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reports)
}

func newTestRunner(t *testing.T, grader Grader, opts ...RunnerOption) (*Runner, *timer.ManualClock) {
	t.Helper()
	clk := timer.NewManualClock(testStart)
	opts = append([]RunnerOption{WithClock(clk)}, opts...)
	r, err := NewRunner(testConfig(), grader, opts...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(r.Close)
	return r, clk
}

// advanceTo moves the manual clock in small steps until phase is reached.
func advanceTo(t *testing.T, r *Runner, clk *timer.ManualClock, phase model.Phase) {
	t.Helper()
	for i := 0; i < 20000; i++ {
		if r.Snapshot().Phase == phase {
			return
		}
		clk.Advance(250 * time.Millisecond)
	}
	t.Fatalf("never reached %s, stuck in %s", phase, r.Snapshot().Phase)
}

// waitFor polls until cond holds; grading runs on its own goroutine.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunnerTimedOutRunReachesResults(t *testing.T) {
	defer goleak.VerifyNone(t)

	archive := &memArchive{}
	grader := &fakeGrader{}
	r, clk := newTestRunner(t, grader, WithArchive(archive))

	if _, err := r.Dispatch(Begin{Demographics: testDemographics()}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	advanceTo(t, r, clk, model.PhaseDigitInput)
	v := r.Snapshot()
	if v.Remaining != 60 || v.Clock != "01:00" || v.Urgency != "normal" {
		t.Errorf("timer view = %d %q %q", v.Remaining, v.Clock, v.Urgency)
	}

	// Grading may finish while the clock is still advancing, in which case
	// the thanks delay elapses within the same advance.
	clk.Advance(time.Hour)
	waitFor(t, "thanks", func() bool {
		p := r.Snapshot().Phase
		return p == model.PhaseThanks || p == model.PhaseResults
	})
	clk.Advance(3500 * time.Millisecond)

	if got := r.Snapshot().Phase; got != model.PhaseResults {
		t.Fatalf("phase = %s, want results", got)
	}
	if n := len(grader.requests()); n != 0 {
		t.Errorf("grader called %d times for blank writing", n)
	}
	if archive.count() != 1 {
		t.Errorf("archived %d reports, want 1", archive.count())
	}
	if clk.Pending() != 0 {
		t.Errorf("%d timers pending after results", clk.Pending())
	}
}

func TestRunnerGradesSubmittedWriting(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, concurrent := range []bool{false, true} {
		grader := &fakeGrader{}
		r, clk := newTestRunner(t, grader, WithConcurrentGrading(concurrent))

		r.Dispatch(Begin{Demographics: testDemographics()})
		advanceTo(t, r, clk, model.PhaseArgumentative)
		if _, err := r.Dispatch(SubmitWriting{Text: "Social media isolates people."}); err != nil {
			t.Fatalf("argumentative: %v", err)
		}
		if _, err := r.Dispatch(SubmitWriting{Text: "Red is the color of warning."}); err != nil {
			t.Fatalf("creative: %v", err)
		}

		waitFor(t, "thanks", func() bool { return r.Snapshot().Phase == model.PhaseThanks })
		clk.Advance(4 * time.Second)

		rep, phase := r.Report()
		if phase != model.PhaseResults {
			t.Fatalf("concurrent=%v: phase = %s", concurrent, phase)
		}
		if rep.Argumentative.Total != 15 || rep.Creative.Total != 15 {
			t.Errorf("concurrent=%v: totals = %d, %d", concurrent, rep.Argumentative.Total, rep.Creative.Total)
		}
		calls := grader.requests()
		if len(calls) != 2 {
			t.Fatalf("concurrent=%v: %d gateway calls", concurrent, len(calls))
		}
		if !concurrent && calls[0].Type != model.TaskArgumentative {
			t.Errorf("sequential grading started with %s", calls[0].Type)
		}
		r.Close()
	}
}

func TestRunnerGradingFailureHalts(t *testing.T) {
	defer goleak.VerifyNone(t)

	grader := &fakeGrader{err: errors.New("Rate limit reached for gpt-4o-mini")}
	r, clk := newTestRunner(t, grader)

	r.Dispatch(Begin{Demographics: testDemographics()})
	advanceTo(t, r, clk, model.PhaseArgumentative)
	r.Dispatch(SubmitWriting{Text: "Some argument."})
	r.Dispatch(SubmitWriting{Text: "Some story."})

	waitFor(t, "halt", func() bool {
		st := r.Snapshot().Status
		return st != nil && st.Halted
	})
	clk.Advance(time.Hour)

	v := r.Snapshot()
	if v.Phase != model.PhaseGrading {
		t.Errorf("phase = %s, want grading", v.Phase)
	}
	if v.Status.Error != "Rate limit reached for gpt-4o-mini" {
		t.Errorf("status error = %q", v.Status.Error)
	}
	if n := len(grader.requests()); n != 1 {
		t.Errorf("gateway called %d times, want 1 (no retry, creative not attempted)", n)
	}
}

func TestRunnerConcurrentFailureNamesTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	grader := &fakeGrader{err: errors.New("upstream 502"), failTask: model.TaskArgumentative}
	r, clk := newTestRunner(t, grader, WithConcurrentGrading(true))

	r.Dispatch(Begin{Demographics: testDemographics()})
	advanceTo(t, r, clk, model.PhaseArgumentative)
	r.Dispatch(SubmitWriting{Text: "Some argument."})
	r.Dispatch(SubmitWriting{Text: "Some story."})

	waitFor(t, "halt", func() bool {
		st := r.Snapshot().Status
		return st != nil && st.Halted
	})

	st := r.Snapshot().Status
	want := Status{
		Progress: 55,
		Message:  MsgGradingFailed,
		Task:     model.TaskArgumentative,
		Error:    "upstream 502",
		Halted:   true,
	}
	if *st != want {
		t.Errorf("status = %+v, want %+v", *st, want)
	}
	if got := r.Snapshot().Phase; got != model.PhaseGrading {
		t.Errorf("phase = %s, want grading", got)
	}
}

func TestRunnerCountdownUrgency(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, clk := newTestRunner(t, &fakeGrader{})
	r.Dispatch(Begin{Demographics: testDemographics()})
	advanceTo(t, r, clk, model.PhaseDigitInput)

	steps := []struct {
		advance time.Duration
		clock   string
		urgency string
	}{
		{0, "01:00", "normal"},
		{30 * time.Second, "00:30", "warning"},
		{20 * time.Second, "00:10", "danger"},
	}
	for _, step := range steps {
		clk.Advance(step.advance)
		v := r.Snapshot()
		if v.Clock != step.clock || v.Urgency != step.urgency {
			t.Errorf("after %v: clock %q urgency %q, want %q %q", step.advance, v.Clock, v.Urgency, step.clock, step.urgency)
		}
	}
}

func TestRunnerRetakeDiscardsTimers(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, clk := newTestRunner(t, &fakeGrader{})
	r.Dispatch(Begin{Demographics: testDemographics()})
	advanceTo(t, r, clk, model.PhaseEquation)
	old := r.Snapshot().SessionID

	v := r.Retake()
	if v.Phase != model.PhaseIntake || v.SessionID == old {
		t.Fatalf("retake view = %+v", v)
	}
	if clk.Pending() != 0 {
		t.Errorf("%d timers pending after retake", clk.Pending())
	}
	clk.Advance(time.Hour)
	if got := r.Snapshot().Phase; got != model.PhaseIntake {
		t.Errorf("phase = %s after advancing, want intake", got)
	}
	rep, _ := r.Report()
	if len(rep.Stages) != 0 {
		t.Errorf("new session has %d stage results", len(rep.Stages))
	}
}

func TestRunnerRetakeCancelsGrading(t *testing.T) {
	defer goleak.VerifyNone(t)

	grader := &fakeGrader{block: true}
	r, clk := newTestRunner(t, grader)
	r.Dispatch(Begin{Demographics: testDemographics()})
	advanceTo(t, r, clk, model.PhaseArgumentative)
	r.Dispatch(SubmitWriting{Text: "Argument."})
	r.Dispatch(SubmitWriting{Text: ""})
	waitFor(t, "gateway call", func() bool { return len(grader.requests()) == 1 })

	r.Retake()
	r.Close()

	v := r.Snapshot()
	if v.Phase != model.PhaseIntake || v.Status != nil {
		t.Errorf("view after retake = %+v", v)
	}
}

func TestRunnerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.EquationSeconds = 0
	if _, err := NewRunner(cfg, nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRunnerWithoutGraderFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, clk := newTestRunner(t, nil)
	r.Dispatch(Begin{Demographics: testDemographics()})
	advanceTo(t, r, clk, model.PhaseArgumentative)
	r.Dispatch(SubmitWriting{Text: "Argument."})
	r.Dispatch(SubmitWriting{Text: "Story."})

	waitFor(t, "halt", func() bool {
		st := r.Snapshot().Status
		return st != nil && st.Halted
	})
	if got := r.Snapshot().Status.Error; got != ErrNoGrader.Error() {
		t.Errorf("status error = %q", got)
	}
}
