package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/cogbattery/internal/grading"
	"github.com/pavelanni/cogbattery/internal/model"
)

//go:embed templates/*.txt
var embedded embed.FS

var (
	studentWritingRegex     = regexp.MustCompile(`(?i)</?\s*student-writing\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// MaxTextRunes caps the writing sample sent to the model.
const MaxTextRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict grades against the top descriptors and rounds down.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient allows for the time limit and rounds up.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GradeData holds template data for grading prompts.
type GradeData struct {
	Evaluator   string
	Genre       string
	PromptLabel string
	Prompt      string
	Dimensions  []grading.Dimension
	MinScore    int
	MaxScore    int
	Text        string
}

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"last": func(i int, dims []grading.Dimension) bool {
		return i == len(dims)-1
	},
	"levels": func(d grading.Dimension) string {
		parts := make([]string, 0, len(d.Levels))
		for i, text := range d.Levels {
			parts = append(parts, fmt.Sprintf("%d=%s", grading.MaxScore-i, text))
		}
		return strings.Join(parts, " | ")
	},
}

// Set is a loaded collection of grading templates, one per variant.
type Set struct {
	grade map[PromptVariant]*template.Template
}

// Load parses the grading templates from fsys, which must contain
// templates/grade_<variant>.txt for every variant. A nil fsys loads the
// built-in templates.
func Load(fsys fs.FS) (*Set, error) {
	if fsys == nil {
		fsys = embedded
	}
	s := &Set{grade: make(map[PromptVariant]*template.Template)}
	for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
		name := "templates/grade_" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		tmpl, err := template.New("grade").Funcs(funcs).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		s.grade[v] = tmpl
	}
	return s, nil
}

// SystemPrompt returns the system message for a writing task.
func SystemPrompt(task model.TaskType) string {
	return fmt.Sprintf("You are an expert %s evaluator. You must respond only in valid JSON format.", evaluator(task))
}

func evaluator(task model.TaskType) string {
	if task == model.TaskCreative {
		return "creative writing"
	}
	return "writing"
}

// BuildGradePrompt renders the grading prompt for one submission.
func (s *Set) BuildGradePrompt(variant PromptVariant, req model.GradingRequest) (string, error) {
	tmpl, ok := s.grade[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	if !req.Type.Valid() {
		return "", fmt.Errorf("%w: %q", grading.ErrUnknownTask, req.Type)
	}

	data := GradeData{
		Evaluator:   evaluator(req.Type),
		Genre:       "argumentative paragraph",
		PromptLabel: "PROMPT",
		Prompt:      req.Prompt,
		Dimensions:  grading.Dimensions(req.Type),
		MinScore:    grading.MinScore,
		MaxScore:    grading.MaxScore,
		Text:        sanitizeText(req.Text),
	}
	if req.Type == model.TaskCreative {
		data.Genre = "creative story opening"
		data.PromptLabel = "IMAGE PROMPT"
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeText(text string) string {
	text = studentWritingRegex.ReplaceAllString(text, "")
	text = systemInstructionsRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text == "" {
		return "[No text provided]"
	}

	if utf8.RuneCountInString(text) > MaxTextRunes {
		runes := []rune(text)
		runes = runes[:MaxTextRunes]
		text = string(runes) + "\n\n[Text truncated due to length]"
	}

	return text
}
