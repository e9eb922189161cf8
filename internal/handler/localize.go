package handler

import (
	"context"

	"github.com/pavelanni/cogbattery/internal/battery"
	appI18n "github.com/pavelanni/cogbattery/internal/i18n"
	"github.com/pavelanni/cogbattery/internal/model"
)

var phaseMessages = map[model.Phase]string{
	model.PhaseIntake:        "PhaseIntake",
	model.PhaseDigitDisplay:  "PhaseDigitDisplay",
	model.PhaseDigitInput:    "PhaseDigitInput",
	model.PhaseWordDisplay:   "PhaseWordDisplay",
	model.PhaseWordRecall:    "PhaseWordRecall",
	model.PhaseEquation:      "PhaseEquation",
	model.PhaseLetterDisplay: "PhaseLetterDisplay",
	model.PhaseLetterRecall:  "PhaseLetterRecall",
	model.PhaseArgumentative: "PhaseArgumentative",
	model.PhaseCreative:      "PhaseCreative",
	model.PhaseGrading:       "PhaseGrading",
	model.PhaseThanks:        "PhaseThanks",
	model.PhaseResults:       "PhaseResults",
}

var taskMessages = map[model.TaskType]string{
	model.TaskArgumentative: "TaskArgumentative",
	model.TaskCreative:      "TaskCreative",
}

// sessionView is the participant snapshot with its labels translated.
type sessionView struct {
	battery.View
	PhaseLabel string `json:"phase_label"`
	StatusText string `json:"status_text,omitempty"`
}

func localizeView(ctx context.Context, v battery.View) sessionView {
	out := sessionView{View: v, PhaseLabel: appI18n.T(ctx, phaseMessages[v.Phase])}
	if st := v.Status; st != nil && st.Message != "" {
		if st.Error != "" {
			out.StatusText = appI18n.Td(ctx, st.Message, map[string]any{
				"Task":  appI18n.T(ctx, taskMessages[st.Task]),
				"Error": st.Error,
			})
		} else {
			out.StatusText = appI18n.T(ctx, st.Message)
		}
	}
	return out
}
