package battery

import (
	"errors"
	"time"

	"github.com/pavelanni/cogbattery/internal/model"
)

var (
	// ErrWrongPhase is returned for an event the current phase does not accept.
	ErrWrongPhase = errors.New("event not accepted in current phase")
	// ErrInvalidInput is returned when a submission does not meet the
	// stage's input constraints. No state changes.
	ErrInvalidInput = errors.New("submission does not meet input constraints")
	// ErrAlreadyAdvanced is returned when the stage's advance guard has fired.
	ErrAlreadyAdvanced = errors.New("stage already advanced")
	// ErrStaleTimer is returned for timer or display callbacks of an older generation.
	ErrStaleTimer = errors.New("stale timer generation")
	// ErrInvariant marks states a correct sequencer never reaches.
	ErrInvariant = errors.New("battery invariant violated")
)

// Event is an input to Session.Apply.
type Event interface {
	event()
}

// Begin confirms the intake form and starts the battery.
type Begin struct {
	Demographics model.Demographics
}

// SubmitDigits submits a reversed digit-span entry.
type SubmitDigits struct {
	Input string
}

// SubmitJudgment answers whether the shown equation is correct.
type SubmitJudgment struct {
	Answer bool
}

// SubmitLetters submits the recalled letters in order.
type SubmitLetters struct {
	Letters []string
}

// SubmitRecall submits a free-recall word list response.
type SubmitRecall struct {
	Text string
}

// SubmitWriting submits the text of the active writing task.
type SubmitWriting struct {
	Text string
}

// SaveDraft records the in-progress response of the active input stage.
// It is what a timeout submits.
type SaveDraft struct {
	Text    string
	Letters []string
}

// TimerExpired is posted when the countdown of generation Gen reaches zero.
type TimerExpired struct {
	Gen uint64
}

// DisplayElapsed is posted when a presentation delay of generation Gen ends.
type DisplayElapsed struct {
	Gen uint64
}

// GradingStarted reports that the gateway call for Task is in flight.
type GradingStarted struct {
	Task model.TaskType
}

// GradingFinished delivers the outcomes of every attempted gateway call.
// Tasks with blank text are absent.
type GradingFinished struct {
	Outcomes map[model.TaskType]*model.GradingOutcome
}

// GradingFailed reports the first failed gateway call.
type GradingFailed struct {
	Task model.TaskType
	Err  error
}

func (Begin) event()           {}
func (SubmitDigits) event()    {}
func (SubmitJudgment) event()  {}
func (SubmitLetters) event()   {}
func (SubmitRecall) event()    {}
func (SubmitWriting) event()   {}
func (SaveDraft) event()       {}
func (TimerExpired) event()    {}
func (DisplayElapsed) event()  {}
func (GradingStarted) event()  {}
func (GradingFinished) event() {}
func (GradingFailed) event()   {}

// Effect is an instruction Apply returns for the runner to carry out.
type Effect interface {
	effect()
}

// StartTimer starts the stage countdown; the runner binds the minted
// generation with Session.ArmTimer.
type StartTimer struct {
	Seconds int
}

// StopTimer halts the stage countdown.
type StopTimer struct{}

// ScheduleDisplay posts DisplayElapsed{Gen} after Delay.
type ScheduleDisplay struct {
	Delay time.Duration
	Gen   uint64
}

// RequestGrading asks the runner to call the grading gateway for each
// request, argumentative first.
type RequestGrading struct {
	Requests []model.GradingRequest
}

// Completed signals that the session reached Results.
type Completed struct{}

func (StartTimer) effect()      {}
func (StopTimer) effect()       {}
func (ScheduleDisplay) effect() {}
func (RequestGrading) effect()  {}
func (Completed) effect()       {}
