// Package scoring maps stimuli and responses to score records. All
// functions are pure.
package scoring

import (
	"math"
	"strings"
	"unicode"

	"github.com/pavelanni/cogbattery/internal/model"
)

// ParseDigits extracts the decimal digits of s in order, ignoring anything else.
func ParseDigits(s string) []int {
	out := make([]int, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, int(r-'0'))
		}
	}
	return out
}

// DigitSpan scores a backward digit-span response. A trial is correct only
// when the response has the sequence's length and matches its reversal at
// every position; NumCorrect counts matching positions regardless.
func DigitSpan(seq, response []int) model.DigitSpanScore {
	reversed := make([]int, len(seq))
	for i, d := range seq {
		reversed[len(seq)-1-i] = d
	}
	numCorrect := 0
	for i, d := range reversed {
		if i < len(response) && response[i] == d {
			numCorrect++
		}
	}
	return model.DigitSpanScore{
		Level:      len(seq),
		Sequence:   append([]int(nil), seq...),
		Reversed:   reversed,
		Response:   append([]int{}, response...),
		NumCorrect: numCorrect,
		Correct:    len(response) == len(seq) && numCorrect == len(seq),
	}
}

// BestSpan returns the highest level among fully correct trials, or 0.
func BestSpan(results []model.DigitSpanScore) int {
	best := 0
	for _, r := range results {
		if r.Correct && r.Level > best {
			best = r.Level
		}
	}
	return best
}

// JudgmentCorrect reports whether answer matches the equation's truth.
func JudgmentCorrect(eq model.Equation, answer bool) bool {
	return eq.IsCorrect == answer
}

// OperationSpan scores one operation-span set. judgments holds, per
// equation, whether the participant's true/false answer was right; a
// judgment forced by timeout is recorded as false by the caller.
func OperationSpan(trial model.OperationSpanTrial, recalled []string, judgments []bool, timedOut int) model.OperationSpanScore {
	lettersCorrect := 0
	for i, l := range trial.Letters {
		if i < len(recalled) && recalled[i] == l {
			lettersCorrect++
		}
	}
	mathCorrect := 0
	for _, ok := range judgments {
		if ok {
			mathCorrect++
		}
	}
	accuracy := 0.0
	if trial.Size > 0 {
		accuracy = float64(mathCorrect) / float64(trial.Size)
	}
	return model.OperationSpanScore{
		SetSize:        trial.Size,
		Letters:        append([]string(nil), trial.Letters...),
		Recalled:       append([]string{}, recalled...),
		LettersCorrect: lettersCorrect,
		AllCorrect:     lettersCorrect == len(trial.Letters),
		Judgments:      append([]bool{}, judgments...),
		TimedOut:       timedOut,
		MathCorrect:    mathCorrect,
		MathTotal:      trial.Size,
		MathAccuracy:   accuracy,
	}
}

// OperationSpanTotals aggregates operation-span sets.
func OperationSpanTotals(results []model.OperationSpanScore) model.OperationSpanSummary {
	var s model.OperationSpanSummary
	for _, r := range results {
		s.LettersCorrect += r.LettersCorrect
		s.LettersPossible += r.SetSize
		s.MathCorrect += r.MathCorrect
		s.MathTotal += r.MathTotal
	}
	if s.MathTotal > 0 {
		s.MathPercent = int(math.Round(float64(s.MathCorrect) / float64(s.MathTotal) * 100))
	}
	return s
}

func splitRecall(r rune) bool {
	return r == ',' || r == '\n' || r == '\r'
}

// FreeRecall scores a free-recall response against the target words.
// Tokens are split on commas and newlines, trimmed and lowercased. Each
// target counts as matched once; unknown tokens are wrong, reported once
// each in input order. Matched and missed follow the target order.
func FreeRecall(targets []string, response string) model.FreeRecallScore {
	targetSet := make(map[string]bool, len(targets))
	for _, w := range targets {
		targetSet[strings.ToLower(strings.TrimSpace(w))] = true
	}

	recalled := make(map[string]bool)
	wrongSeen := make(map[string]bool)
	wrong := []string{}
	for _, tok := range strings.FieldsFunc(response, splitRecall) {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if targetSet[tok] {
			recalled[tok] = true
			continue
		}
		if !wrongSeen[tok] {
			wrongSeen[tok] = true
			wrong = append(wrong, tok)
		}
	}

	matched, missed := []string{}, []string{}
	for _, w := range targets {
		key := strings.ToLower(strings.TrimSpace(w))
		if recalled[key] {
			matched = append(matched, key)
			delete(recalled, key)
		} else if !contains(matched, key) {
			missed = append(missed, key)
		}
	}

	return model.FreeRecallScore{
		Targets:  append([]string(nil), targets...),
		Response: response,
		Matched:  matched,
		Missed:   missed,
		Wrong:    wrong,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.FieldsFunc(text, unicode.IsSpace))
}

// IsBlank reports whether text is empty or whitespace only.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
