// Package stimulus generates task content for the assessment battery.
package stimulus

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/pavelanni/cogbattery/internal/model"
)

// Alphabet is the fixed letter pool for operation-span trials.
var Alphabet = []string{"F", "H", "J", "K", "L", "N", "P", "Q", "R", "S", "T", "Y"}

const (
	opAdd = iota
	opSub
	opMul
)

var opSymbols = [...]string{"+", "−", "×"}

// Generator produces randomized stimuli. It is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
}

// New returns a generator seeded with seed; zero seeds from the clock.
func New(seed uint64) *Generator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Digits returns n digits in 1..9 with no two adjacent digits equal.
func (g *Generator) Digits(n int) []int {
	digits := make([]int, 0, n)
	for i := 0; i < n; i++ {
		d := g.rng.IntN(9) + 1
		for i > 0 && d == digits[i-1] {
			d = g.rng.IntN(9) + 1
		}
		digits = append(digits, d)
	}
	return digits
}

// Equation returns a two-step arithmetic statement and whether the shown
// result is the true one. False statements are off by 1 to 3.
func (g *Generator) Equation() model.Equation {
	op := g.rng.IntN(3)
	a := g.rng.IntN(9) + 1
	var b int
	if op == opSub {
		b = g.rng.IntN(a) + 1
	} else {
		b = g.rng.IntN(9) + 1
	}

	var mid int
	switch op {
	case opAdd:
		mid = a + b
	case opSub:
		mid = a - b
	default:
		mid = a * b
	}

	add := g.rng.IntN(2) == 0
	c := g.rng.IntN(5) + 1
	op2 := "−"
	truth := mid - c
	if add {
		op2 = "+"
		truth = mid + c
	}

	isCorrect := g.rng.IntN(2) == 0
	shown := truth
	if !isCorrect {
		off := g.rng.IntN(3) + 1
		if g.rng.IntN(2) == 0 {
			off = -off
		}
		shown = truth + off
	}

	return model.Equation{
		Text:      fmt.Sprintf("(%d %s %d) %s %d = %d", a, opSymbols[op], b, op2, c, shown),
		IsCorrect: isCorrect,
	}
}

// OperationSpan builds one trial per set size, in the given order. Letters
// within a trial are drawn without replacement.
func (g *Generator) OperationSpan(setSizes []int) []model.OperationSpanTrial {
	trials := make([]model.OperationSpanTrial, 0, len(setSizes))
	for _, size := range setSizes {
		if size > len(Alphabet) {
			size = len(Alphabet)
		}
		avail := append([]string(nil), Alphabet...)
		letters := make([]string, 0, size)
		for i := 0; i < size; i++ {
			idx := g.rng.IntN(len(avail))
			letters = append(letters, avail[idx])
			avail = append(avail[:idx], avail[idx+1:]...)
		}
		equations := make([]model.Equation, 0, size)
		for i := 0; i < size; i++ {
			equations = append(equations, g.Equation())
		}
		trials = append(trials, model.OperationSpanTrial{Size: size, Letters: letters, Equations: equations})
	}
	return trials
}

// WordList returns a copy of the i-th configured list, or nil when out of range.
func WordList(lists [][]string, i int) []string {
	if i < 0 || i >= len(lists) {
		return nil
	}
	return append([]string(nil), lists[i]...)
}

// IsLetter reports whether l belongs to Alphabet.
func IsLetter(l string) bool {
	for _, a := range Alphabet {
		if a == l {
			return true
		}
	}
	return false
}
