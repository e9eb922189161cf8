// Package battery sequences the assessment: it holds the session state
// machine and the runner that drives it with timers and grading calls.
package battery

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/cogbattery/internal/model"
	"github.com/pavelanni/cogbattery/internal/report"
	"github.com/pavelanni/cogbattery/internal/scoring"
	"github.com/pavelanni/cogbattery/internal/stimulus"
)

// Status messages are i18n message IDs.
const (
	MsgGradingArgumentative = "StatusGradingArgumentative"
	MsgGradingCreative      = "StatusGradingCreative"
	MsgPreparingResults     = "StatusPreparingResults"
	MsgGradingFailed        = "StatusGradingFailed"
)

// Status is the participant-facing progress of the grading phase.
type Status struct {
	Progress int            `json:"progress"`
	Message  string         `json:"message,omitempty"`
	Task     model.TaskType `json:"task,omitempty"`
	Error    string         `json:"error,omitempty"`
	Halted   bool           `json:"halted"`
}

type draft struct {
	text    string
	letters []string
}

// Session is the state of one assessment run. It changes only through
// Apply and ArmTimer and performs no I/O; the effects it returns are
// carried out by a Runner.
type Session struct {
	ID           string
	StartedAt    time.Time
	CompletedAt  time.Time
	Demographics model.Demographics

	cfg model.BatteryConfig
	gen *stimulus.Generator
	now func() time.Time

	phase model.Phase
	trial int
	item  int

	digits    []int
	words     []string
	ospan     []model.OperationSpanTrial
	judgments []bool
	timedOut  int

	draft      draft
	timerGen   uint64
	displayGen uint64
	advanced   bool

	results []model.StageResult
	grading map[model.TaskType]*model.GradingOutcome
	status  Status
}

// NewSession creates a session in the intake phase.
func NewSession(cfg model.BatteryConfig, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		ID:      uuid.NewString(),
		cfg:     cfg,
		gen:     stimulus.New(cfg.Seed),
		now:     now,
		phase:   model.PhaseIntake,
		grading: make(map[model.TaskType]*model.GradingOutcome),
	}
}

// Phase returns the active phase.
func (s *Session) Phase() model.Phase { return s.phase }

// Status returns the grading status.
func (s *Session) Status() Status { return s.status }

// Results returns a copy of the completed stage results in order.
func (s *Session) Results() []model.StageResult {
	return append([]model.StageResult(nil), s.results...)
}

// Outcome returns the grading outcome for a writing task, or nil.
func (s *Session) Outcome(task model.TaskType) *model.GradingOutcome {
	return s.grading[task]
}

// ArmTimer binds the countdown generation started for the current stage.
// Expiries carrying any other generation are ignored.
func (s *Session) ArmTimer(gen uint64) {
	s.timerGen = gen
}

// Apply advances the state machine by one event.
func (s *Session) Apply(ev Event) ([]Effect, error) {
	switch e := ev.(type) {
	case Begin:
		return s.begin(e)
	case SubmitDigits:
		return s.submitDigits(e)
	case SubmitJudgment:
		return s.submitJudgment(e)
	case SubmitLetters:
		return s.submitLetters(e)
	case SubmitRecall:
		if err := s.guard(model.PhaseWordRecall); err != nil {
			return nil, err
		}
		return s.completeRecall(e.Text, false), nil
	case SubmitWriting:
		if s.phase != model.PhaseArgumentative && s.phase != model.PhaseCreative {
			return nil, ErrWrongPhase
		}
		if err := s.guard(s.phase); err != nil {
			return nil, err
		}
		return s.completeWriting(e.Text, false), nil
	case SaveDraft:
		return nil, s.saveDraft(e)
	case TimerExpired:
		return s.expire(e)
	case DisplayElapsed:
		return s.displayElapsed(e)
	case GradingStarted:
		return nil, s.gradingStarted(e)
	case GradingFinished:
		return s.gradingFinished(e)
	case GradingFailed:
		return nil, s.gradingFailed(e)
	}
	return nil, fmt.Errorf("%w: unknown event %T", ErrInvariant, ev)
}

// guard checks the phase and the advance guard of the current input stage.
func (s *Session) guard(phase model.Phase) error {
	if s.phase != phase {
		return ErrWrongPhase
	}
	if s.advanced {
		return ErrAlreadyAdvanced
	}
	return nil
}

func (s *Session) begin(e Begin) ([]Effect, error) {
	if s.phase != model.PhaseIntake {
		return nil, ErrWrongPhase
	}
	if err := ValidateDemographics(e.Demographics); err != nil {
		return nil, err
	}
	s.Demographics = e.Demographics
	s.StartedAt = s.now()
	return s.startDigitTrial(0), nil
}

func (s *Session) enterInput(phase model.Phase, seconds int) []Effect {
	s.phase = phase
	s.advanced = false
	s.draft = draft{}
	s.timerGen = 0
	return []Effect{StartTimer{Seconds: seconds}}
}

func (s *Session) scheduleDisplay(delay time.Duration) []Effect {
	s.displayGen++
	return []Effect{ScheduleDisplay{Delay: delay, Gen: s.displayGen}}
}

func (s *Session) record(r model.StageResult) {
	r.CompletedAt = s.now()
	s.results = append(s.results, r)
}

// Digit span.

func digitDelay(level int) time.Duration {
	switch {
	case level <= 5:
		return 1200 * time.Millisecond
	case level <= 7:
		return 900 * time.Millisecond
	default:
		return 600 * time.Millisecond
	}
}

func (s *Session) startDigitTrial(i int) []Effect {
	if i >= len(s.cfg.DigitLevels) {
		return s.startWordTrial(0)
	}
	s.trial, s.item = i, 0
	s.digits = s.gen.Digits(s.cfg.DigitLevels[i])
	s.phase = model.PhaseDigitDisplay
	return s.scheduleDisplay(digitDelay(len(s.digits)))
}

func (s *Session) submitDigits(e SubmitDigits) ([]Effect, error) {
	if err := s.guard(model.PhaseDigitInput); err != nil {
		return nil, err
	}
	if !s.digitsComplete(e.Input) {
		return nil, fmt.Errorf("%w: enter exactly %d digits", ErrInvalidInput, len(s.digits))
	}
	return s.completeDigits(scoring.ParseDigits(e.Input), false), nil
}

// digitsComplete reports whether input is exactly one digit per displayed
// digit with nothing else in between.
func (s *Session) digitsComplete(input string) bool {
	digits := scoring.ParseDigits(input)
	return len(digits) == len(input) && len(digits) == len(s.digits)
}

func (s *Session) completeDigits(response []int, forced bool) []Effect {
	s.advanced = true
	score := scoring.DigitSpan(s.digits, response)
	s.record(model.StageResult{
		Stage:     model.StageDigitSpan,
		Trial:     s.trial,
		Forced:    forced,
		DigitSpan: &score,
	})
	return append([]Effect{StopTimer{}}, s.startDigitTrial(s.trial+1)...)
}

// Free recall.

func (s *Session) startWordTrial(i int) []Effect {
	for ; i < len(s.cfg.WordLists); i++ {
		words := stimulus.WordList(s.cfg.WordLists, i)
		if len(words) == 0 {
			continue
		}
		s.trial, s.item = i, 0
		s.words = words
		s.phase = model.PhaseWordDisplay
		return s.scheduleDisplay(s.cfg.WordDisplay)
	}
	return s.startOperationSpan()
}

func (s *Session) completeRecall(text string, forced bool) []Effect {
	s.advanced = true
	score := scoring.FreeRecall(s.words, text)
	s.record(model.StageResult{
		Stage:      model.StageFreeRecall,
		Trial:      s.trial,
		Forced:     forced,
		FreeRecall: &score,
	})
	return append([]Effect{StopTimer{}}, s.startWordTrial(s.trial+1)...)
}

// Operation span.

func (s *Session) startOperationSpan() []Effect {
	s.ospan = s.gen.OperationSpan(s.cfg.OperationSetSizes)
	return s.startOperationTrial(0)
}

func (s *Session) startOperationTrial(i int) []Effect {
	if i >= len(s.ospan) {
		return s.enterWriting(model.PhaseArgumentative)
	}
	s.trial, s.item = i, 0
	s.judgments = nil
	s.timedOut = 0
	return s.enterInput(model.PhaseEquation, s.cfg.EquationSeconds)
}

func (s *Session) currentTrial() (model.OperationSpanTrial, error) {
	if s.trial < 0 || s.trial >= len(s.ospan) {
		return model.OperationSpanTrial{}, fmt.Errorf("%w: operation-span trial %d of %d", ErrInvariant, s.trial, len(s.ospan))
	}
	return s.ospan[s.trial], nil
}

func (s *Session) submitJudgment(e SubmitJudgment) ([]Effect, error) {
	if err := s.guard(model.PhaseEquation); err != nil {
		return nil, err
	}
	trial, err := s.currentTrial()
	if err != nil {
		return nil, err
	}
	if s.item >= len(trial.Equations) {
		return nil, fmt.Errorf("%w: equation %d of %d", ErrInvariant, s.item, len(trial.Equations))
	}
	return s.recordJudgment(scoring.JudgmentCorrect(trial.Equations[s.item], e.Answer), false), nil
}

func (s *Session) recordJudgment(correct, forced bool) []Effect {
	s.advanced = true
	s.judgments = append(s.judgments, correct)
	if forced {
		s.timedOut++
	}
	s.phase = model.PhaseLetterDisplay
	return append([]Effect{StopTimer{}}, s.scheduleDisplay(s.cfg.LetterDisplay)...)
}

func (s *Session) checkLetters(letters []string) error {
	trial, err := s.currentTrial()
	if err != nil {
		return err
	}
	if len(letters) > trial.Size {
		return fmt.Errorf("%w: at most %d letters", ErrInvalidInput, trial.Size)
	}
	seen := make(map[string]bool, len(letters))
	for _, l := range letters {
		if !stimulus.IsLetter(l) {
			return fmt.Errorf("%w: %q is not a recall letter", ErrInvalidInput, l)
		}
		if seen[l] {
			return fmt.Errorf("%w: %q selected twice", ErrInvalidInput, l)
		}
		seen[l] = true
	}
	return nil
}

func (s *Session) submitLetters(e SubmitLetters) ([]Effect, error) {
	if err := s.guard(model.PhaseLetterRecall); err != nil {
		return nil, err
	}
	if err := s.checkLetters(e.Letters); err != nil {
		return nil, err
	}
	return s.completeLetters(e.Letters, false)
}

func (s *Session) completeLetters(letters []string, forced bool) ([]Effect, error) {
	trial, err := s.currentTrial()
	if err != nil {
		return nil, err
	}
	s.advanced = true
	score := scoring.OperationSpan(trial, letters, s.judgments, s.timedOut)
	s.record(model.StageResult{
		Stage:         model.StageOperationSpan,
		Trial:         s.trial,
		Forced:        forced,
		OperationSpan: &score,
	})
	return append([]Effect{StopTimer{}}, s.startOperationTrial(s.trial+1)...), nil
}

// Writing.

func (s *Session) enterWriting(phase model.Phase) []Effect {
	s.trial, s.item = 0, 0
	return s.enterInput(phase, s.cfg.WritingSeconds)
}

func (s *Session) completeWriting(text string, forced bool) []Effect {
	s.advanced = true
	task, stage, prompt := model.TaskArgumentative, model.StageArgumentative, s.cfg.ArgumentativePrompt
	if s.phase == model.PhaseCreative {
		task, stage, prompt = model.TaskCreative, model.StageCreative, s.cfg.CreativePrompt
	}
	s.record(model.StageResult{
		Stage:  stage,
		Forced: forced,
		Writing: &model.WritingSubmission{
			Task:      task,
			Prompt:    prompt,
			Text:      text,
			WordCount: scoring.WordCount(text),
		},
	})
	effects := []Effect{StopTimer{}}
	if task == model.TaskArgumentative {
		return append(effects, s.enterWriting(model.PhaseCreative)...)
	}
	return append(effects, s.enterGrading()...)
}

func (s *Session) writing(task model.TaskType) *model.WritingSubmission {
	for i := range s.results {
		if w := s.results[i].Writing; w != nil && w.Task == task {
			return w
		}
	}
	return nil
}

// Grading, thanks, results.

func (s *Session) enterGrading() []Effect {
	s.phase = model.PhaseGrading
	s.status = Status{Progress: 10, Message: MsgGradingArgumentative}
	var reqs []model.GradingRequest
	for _, task := range []model.TaskType{model.TaskArgumentative, model.TaskCreative} {
		w := s.writing(task)
		if w == nil || scoring.IsBlank(w.Text) {
			continue
		}
		reqs = append(reqs, model.GradingRequest{Type: task, Prompt: w.Prompt, Text: w.Text})
	}
	return []Effect{RequestGrading{Requests: reqs}}
}

func (s *Session) gradingStarted(e GradingStarted) error {
	if s.phase != model.PhaseGrading || s.status.Halted {
		return ErrWrongPhase
	}
	switch e.Task {
	case model.TaskArgumentative:
		s.status.Progress, s.status.Message = 10, MsgGradingArgumentative
	case model.TaskCreative:
		s.status.Progress, s.status.Message = 55, MsgGradingCreative
	}
	return nil
}

func (s *Session) gradingFinished(e GradingFinished) ([]Effect, error) {
	if s.phase != model.PhaseGrading || s.status.Halted {
		return nil, ErrWrongPhase
	}
	for task, out := range e.Outcomes {
		if out != nil {
			s.grading[task] = out
		}
	}
	s.status = Status{Progress: 100, Message: MsgPreparingResults}
	s.phase = model.PhaseThanks
	return s.scheduleDisplay(s.cfg.Thanks), nil
}

func (s *Session) gradingFailed(e GradingFailed) error {
	if s.phase != model.PhaseGrading || s.status.Halted {
		return ErrWrongPhase
	}
	msg := "grading failed"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	s.status.Message = MsgGradingFailed
	s.status.Task = e.Task
	s.status.Error = msg
	s.status.Halted = true
	return nil
}

// Drafts, expiry and display delays.

func (s *Session) saveDraft(e SaveDraft) error {
	switch s.phase {
	case model.PhaseDigitInput, model.PhaseWordRecall, model.PhaseArgumentative, model.PhaseCreative:
		if s.advanced {
			return ErrAlreadyAdvanced
		}
		s.draft.text = e.Text
		return nil
	case model.PhaseLetterRecall:
		if s.advanced {
			return ErrAlreadyAdvanced
		}
		if err := s.checkLetters(e.Letters); err != nil {
			return err
		}
		s.draft.letters = append([]string(nil), e.Letters...)
		return nil
	}
	return ErrWrongPhase
}

// expire substitutes the stage's default response and scores it.
func (s *Session) expire(e TimerExpired) ([]Effect, error) {
	if !s.phase.Timed() {
		return nil, ErrWrongPhase
	}
	if e.Gen != s.timerGen {
		return nil, ErrStaleTimer
	}
	if s.advanced {
		return nil, ErrAlreadyAdvanced
	}

	switch s.phase {
	case model.PhaseDigitInput:
		response := scoring.ParseDigits(s.draft.text)
		if len(response) > len(s.digits) {
			response = response[:len(s.digits)]
		}
		return s.completeDigits(response, true), nil
	case model.PhaseWordRecall:
		return s.completeRecall(s.draft.text, true), nil
	case model.PhaseEquation:
		return s.recordJudgment(false, true), nil
	case model.PhaseLetterRecall:
		return s.completeLetters(s.draft.letters, true)
	default:
		return s.completeWriting(s.draft.text, true), nil
	}
}

func (s *Session) displayElapsed(e DisplayElapsed) ([]Effect, error) {
	switch s.phase {
	case model.PhaseDigitDisplay, model.PhaseWordDisplay, model.PhaseLetterDisplay, model.PhaseThanks:
	default:
		return nil, ErrWrongPhase
	}
	if e.Gen != s.displayGen {
		return nil, ErrStaleTimer
	}

	switch s.phase {
	case model.PhaseDigitDisplay:
		s.item++
		if s.item < len(s.digits) {
			return s.scheduleDisplay(digitDelay(len(s.digits))), nil
		}
		return s.enterInput(model.PhaseDigitInput, s.cfg.DigitInputSeconds), nil
	case model.PhaseWordDisplay:
		s.item++
		if s.item < len(s.words) {
			return s.scheduleDisplay(s.cfg.WordDisplay), nil
		}
		return s.enterInput(model.PhaseWordRecall, s.cfg.WordRecallSeconds), nil
	case model.PhaseLetterDisplay:
		trial, err := s.currentTrial()
		if err != nil {
			return nil, err
		}
		if s.item+1 < trial.Size {
			s.item++
			return s.enterInput(model.PhaseEquation, s.cfg.EquationSeconds), nil
		}
		return s.enterInput(model.PhaseLetterRecall, s.cfg.LetterRecallSeconds), nil
	default:
		s.phase = model.PhaseResults
		s.CompletedAt = s.now()
		return []Effect{Completed{}}, nil
	}
}

// View is the participant-facing snapshot of a session. It exposes only
// the stimulus currently on screen.
type View struct {
	SessionID string      `json:"session_id"`
	Phase     model.Phase `json:"phase"`
	Trial     int         `json:"trial"`
	Trials    int         `json:"trials"`
	Item      int         `json:"item"`

	Digit     *int     `json:"digit,omitempty"`
	Expected  int      `json:"expected,omitempty"`
	Word      string   `json:"word,omitempty"`
	Equation  string   `json:"equation,omitempty"`
	Letter    string   `json:"letter,omitempty"`
	SetSize   int      `json:"set_size,omitempty"`
	Alphabet  []string `json:"alphabet,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	Draft     string   `json:"draft,omitempty"`
	Letters   []string `json:"letters,omitempty"`
	WordCount int      `json:"word_count,omitempty"`
	CanSubmit bool     `json:"can_submit"`

	Remaining int    `json:"remaining,omitempty"`
	Clock     string `json:"clock,omitempty"`
	Urgency   string `json:"urgency,omitempty"`

	Status *Status       `json:"status,omitempty"`
	Report *model.Report `json:"report,omitempty"`
}

// View returns the current snapshot. Timer fields are left for the runner.
func (s *Session) View() View {
	v := View{SessionID: s.ID, Phase: s.phase, Trial: s.trial, Item: s.item}
	switch s.phase {
	case model.PhaseDigitDisplay:
		v.Trials = len(s.cfg.DigitLevels)
		if s.item < len(s.digits) {
			d := s.digits[s.item]
			v.Digit = &d
		}
	case model.PhaseDigitInput:
		v.Trials = len(s.cfg.DigitLevels)
		v.Expected = len(s.digits)
		v.Draft = s.draft.text
		v.CanSubmit = s.digitsComplete(s.draft.text)
	case model.PhaseWordDisplay:
		v.Trials = len(s.cfg.WordLists)
		if s.item < len(s.words) {
			v.Word = s.words[s.item]
		}
	case model.PhaseWordRecall:
		v.Trials = len(s.cfg.WordLists)
		v.Draft = s.draft.text
		v.CanSubmit = true
	case model.PhaseEquation, model.PhaseLetterDisplay, model.PhaseLetterRecall:
		v.Trials = len(s.ospan)
		if s.trial < len(s.ospan) {
			trial := s.ospan[s.trial]
			v.SetSize = trial.Size
			switch {
			case s.phase == model.PhaseEquation && s.item < len(trial.Equations):
				v.Equation = trial.Equations[s.item].Text
				v.CanSubmit = true
			case s.phase == model.PhaseLetterDisplay && s.item < len(trial.Letters):
				v.Letter = trial.Letters[s.item]
			case s.phase == model.PhaseLetterRecall:
				v.Alphabet = stimulus.Alphabet
				v.Letters = append([]string{}, s.draft.letters...)
				v.CanSubmit = true
			}
		}
	case model.PhaseArgumentative:
		v.Prompt = s.cfg.ArgumentativePrompt
		v.Draft = s.draft.text
		v.WordCount = scoring.WordCount(s.draft.text)
		v.CanSubmit = true
	case model.PhaseCreative:
		v.Prompt = s.cfg.CreativePrompt
		v.Draft = s.draft.text
		v.WordCount = scoring.WordCount(s.draft.text)
		v.CanSubmit = true
	case model.PhaseGrading, model.PhaseThanks:
		st := s.status
		v.Status = &st
	case model.PhaseResults:
		r := s.Report()
		v.Report = &r
	}
	return v
}

// Report assembles the results record from the completed stages.
func (s *Session) Report() model.Report {
	return report.Assemble(report.Input{
		SessionID:    s.ID,
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
		Demographics: s.Demographics,
		Stages:       s.results,
		Outcomes:     s.grading,
	})
}
