package battery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/cogbattery/internal/model"
	"github.com/pavelanni/cogbattery/internal/timer"
)

// Grader scores one writing submission through the grading gateway.
type Grader interface {
	Grade(ctx context.Context, req model.GradingRequest) (*model.GradingOutcome, error)
}

// Archive stores finished reports.
type Archive interface {
	SaveReport(r model.Report) error
}

// ErrNoGrader is the grading failure reported when no gateway is configured.
var ErrNoGrader = errors.New("no grading gateway configured")

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock replaces the system clock.
func WithClock(c timer.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithArchive stores every completed report.
func WithArchive(a Archive) RunnerOption {
	return func(r *Runner) { r.archive = a }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// WithConcurrentGrading issues both gateway calls at once instead of
// argumentative first.
func WithConcurrentGrading(on bool) RunnerOption {
	return func(r *Runner) { r.concurrent = on }
}

// WithGradingTimeout bounds each gateway call.
func WithGradingTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.gradingTimeout = d }
}

// WithTick overrides the countdown tick.
func WithTick(d time.Duration) RunnerOption {
	return func(r *Runner) { r.tickOpts = append(r.tickOpts, timer.WithTick(d)) }
}

// Runner owns the active session and carries out its effects: countdowns,
// presentation delays, gateway calls and archiving. All session access is
// serialized by mu. Callbacks are tagged with the session they were
// scheduled for and dropped once a retake has replaced it.
type Runner struct {
	cfg            model.BatteryConfig
	grader         Grader
	archive        Archive
	clock          timer.Clock
	log            *slog.Logger
	concurrent     bool
	gradingTimeout time.Duration
	tickOpts       []timer.Option

	mu        sync.Mutex
	sess      *Session
	countdown *timer.Countdown
	display   timer.Stopper
	cancel    context.CancelFunc
	closed    bool
	wg        sync.WaitGroup
}

// NewRunner validates cfg and starts a session in the intake phase.
func NewRunner(cfg model.BatteryConfig, grader Grader, opts ...RunnerOption) (*Runner, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("battery config: %w", err)
	}
	r := &Runner{
		cfg:            cfg,
		grader:         grader,
		clock:          timer.SystemClock{},
		log:            slog.Default(),
		gradingTimeout: 60 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
	return r, nil
}

func (r *Runner) resetLocked() {
	if r.countdown != nil {
		r.countdown.Stop()
	}
	if r.display != nil {
		r.display.Stop()
		r.display = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	sess := NewSession(r.cfg, r.clock.Now)
	r.sess = sess
	r.countdown = timer.New(r.clock, func(gen uint64) {
		r.post(sess, TimerExpired{Gen: gen})
	}, r.tickOpts...)
}

// Dispatch applies a participant event to the active session and returns
// the resulting snapshot.
func (r *Runner) Dispatch(ev Event) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return View{}, ErrWrongPhase
	}
	effects, err := r.sess.Apply(ev)
	if err != nil {
		return r.snapshotLocked(), err
	}
	r.executeLocked(r.sess, effects)
	return r.snapshotLocked(), nil
}

// Retake discards the active session, whatever its phase, and starts a new
// one in intake. Pending timers and gateway calls of the old session are
// cancelled.
func (r *Runner) Retake() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.sess.ID
	r.resetLocked()
	r.log.Info("session reset", "previous", old, "session", r.sess.ID)
	return r.snapshotLocked()
}

// Snapshot returns the current view including countdown state.
func (r *Runner) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Report returns the report of the active session. It is complete only in
// the results phase.
func (r *Runner) Report() (model.Report, model.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.Report(), r.sess.Phase()
}

// Close stops timers, cancels grading and waits for in-flight gateway calls.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.countdown.Stop()
	if r.display != nil {
		r.display.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) snapshotLocked() View {
	v := r.sess.View()
	if r.sess.Phase().Timed() {
		rem := r.countdown.Remaining()
		v.Remaining = rem
		v.Clock = timer.FormatClock(rem)
		v.Urgency = string(r.countdown.Urgency())
	}
	return v
}

// post delivers an asynchronous event if sess is still the active session.
func (r *Runner) post(sess *Session, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.sess != sess {
		return
	}
	effects, err := sess.Apply(ev)
	if err != nil {
		r.log.Debug("event dropped", "session", sess.ID, "event", fmt.Sprintf("%T", ev), "error", err)
		return
	}
	r.executeLocked(sess, effects)
}

func (r *Runner) executeLocked(sess *Session, effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case StartTimer:
			sess.ArmTimer(r.countdown.Start(e.Seconds))
		case StopTimer:
			r.countdown.Stop()
		case ScheduleDisplay:
			if r.display != nil {
				r.display.Stop()
			}
			gen := e.Gen
			r.display = r.clock.AfterFunc(e.Delay, func() {
				r.post(sess, DisplayElapsed{Gen: gen})
			})
		case RequestGrading:
			ctx, cancel := context.WithCancel(context.Background())
			r.cancel = cancel
			r.wg.Add(1)
			go r.grade(ctx, sess, e.Requests)
		case Completed:
			r.completeLocked(sess)
		}
	}
}

func (r *Runner) completeLocked(sess *Session) {
	rep := sess.Report()
	r.log.Info("session completed",
		"session", sess.ID,
		"max_span", rep.DigitSpan.MaxSpan,
		"math_percent", rep.OperationSpan.MathPercent,
	)
	if r.archive == nil {
		return
	}
	if err := r.archive.SaveReport(rep); err != nil {
		r.log.Error("archive report", "session", sess.ID, "error", err)
	}
}

// gradeError carries the task whose gateway call failed.
type gradeError struct {
	task model.TaskType
	err  error
}

func (e *gradeError) Error() string { return e.err.Error() }
func (e *gradeError) Unwrap() error { return e.err }

func (r *Runner) grade(ctx context.Context, sess *Session, reqs []model.GradingRequest) {
	defer r.wg.Done()

	var (
		outcomes map[model.TaskType]*model.GradingOutcome
		err      error
	)
	if r.concurrent {
		outcomes, err = r.gradeConcurrent(ctx, sess, reqs)
	} else {
		outcomes, err = r.gradeSequential(ctx, sess, reqs)
	}
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		var ge *gradeError
		task := model.TaskType("")
		if errors.As(err, &ge) {
			task, err = ge.task, ge.err
		}
		r.log.Error("grading failed", "session", sess.ID, "task", task, "error", err)
		r.post(sess, GradingFailed{Task: task, Err: err})
		return
	}
	r.log.Info("grading finished", "session", sess.ID, "graded", len(outcomes))
	r.post(sess, GradingFinished{Outcomes: outcomes})
}

func (r *Runner) gradeOne(ctx context.Context, req model.GradingRequest) (*model.GradingOutcome, error) {
	if r.grader == nil {
		return nil, &gradeError{task: req.Type, err: ErrNoGrader}
	}
	callCtx, cancel := context.WithTimeout(ctx, r.gradingTimeout)
	defer cancel()
	start := time.Now()
	out, err := r.grader.Grade(callCtx, req)
	if err != nil {
		return nil, &gradeError{task: req.Type, err: err}
	}
	r.log.Debug("graded", "task", req.Type, "total", out.Total(), "elapsed", time.Since(start))
	return out, nil
}

func (r *Runner) gradeSequential(ctx context.Context, sess *Session, reqs []model.GradingRequest) (map[model.TaskType]*model.GradingOutcome, error) {
	outcomes := make(map[model.TaskType]*model.GradingOutcome, len(reqs))
	for _, req := range reqs {
		r.post(sess, GradingStarted{Task: req.Type})
		out, err := r.gradeOne(ctx, req)
		if err != nil {
			return nil, err
		}
		outcomes[req.Type] = out
	}
	return outcomes, nil
}

func (r *Runner) gradeConcurrent(ctx context.Context, sess *Session, reqs []model.GradingRequest) (map[model.TaskType]*model.GradingOutcome, error) {
	results := make([]*model.GradingOutcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		r.post(sess, GradingStarted{Task: req.Type})
		g.Go(func() error {
			out, err := r.gradeOne(gctx, req)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	outcomes := make(map[model.TaskType]*model.GradingOutcome, len(reqs))
	for i, req := range reqs {
		outcomes[req.Type] = results[i]
	}
	return outcomes, nil
}
