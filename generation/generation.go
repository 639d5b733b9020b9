package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrGenerationFailed = errors.New("question generation produced nothing usable")
	ErrTimeout          = errors.New("question generation timed out")
)

const (
	TypeMultipleChoice = "multiple_choice"
	TypeTrueFalse      = "true_false"
	TypeShortAnswer    = "short_answer"

	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

const (
	MinSourceChars = 100
	MaxCount       = 50
)

// Question is the canonical shape every backend output is normalized into.
type Question struct {
	QuestionText    string   `json:"question_text"`
	QuestionType    string   `json:"question_type"`
	Options         []string `json:"options,omitempty"`
	CorrectAnswer   string   `json:"correct_answer"`
	Explanation     string   `json:"explanation,omitempty"`
	DifficultyLevel string   `json:"difficulty_level"`
	Topic           string   `json:"topic,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	BloomLevel      string   `json:"bloom_taxonomy_level,omitempty"`
	Confidence      float64  `json:"confidence_score"`
	SourceSentence  string   `json:"source_sentence,omitempty"`
}

// Request describes one generation run.
type Request struct {
	Text       string
	Count      int
	Types      []string
	Difficulty string
}

// Validate rejects malformed requests before any backend is called.
// It also canonicalizes types and difficulty in place.
func (r *Request) Validate() error {
	if len(strings.TrimSpace(r.Text)) < MinSourceChars {
		return fmt.Errorf("source text too short: need at least %d characters", MinSourceChars)
	}
	if r.Count < 1 || r.Count > MaxCount {
		return fmt.Errorf("question count must be between 1 and %d", MaxCount)
	}
	if len(r.Types) == 0 {
		r.Types = []string{TypeMultipleChoice}
	}
	seen := map[string]bool{}
	types := make([]string, 0, len(r.Types))
	for _, t := range r.Types {
		ct := CanonicalType(t)
		if ct == "" {
			return fmt.Errorf("unsupported question type %q", t)
		}
		if !seen[ct] {
			seen[ct] = true
			types = append(types, ct)
		}
	}
	r.Types = types

	switch strings.ToLower(strings.TrimSpace(r.Difficulty)) {
	case "", DifficultyMedium:
		r.Difficulty = DifficultyMedium
	case DifficultyEasy:
		r.Difficulty = DifficultyEasy
	case DifficultyHard:
		r.Difficulty = DifficultyHard
	default:
		return fmt.Errorf("unsupported difficulty %q", r.Difficulty)
	}
	return nil
}

// CanonicalType folds the aliases models like to emit into one of the
// supported type names. Returns "" for anything unsupported (essay included).
func CanonicalType(t string) string {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(t, "-", "_"))) {
	case TypeMultipleChoice, "multiplechoice", "multiple", "mc", "single_choice":
		return TypeMultipleChoice
	case TypeTrueFalse, "truefalse", "tf", "boolean":
		return TypeTrueFalse
	case TypeShortAnswer, "shortanswer", "open", "open_ended", "fill_in_blank":
		return TypeShortAnswer
	default:
		return ""
	}
}

// Backend produces candidate questions as loosely-typed maps; the
// orchestrator owns normalization and dedupe.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) ([]map[string]any, error)
}
