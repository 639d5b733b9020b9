package generation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// HeuristicBackend builds questions straight from the source text with no
// model behind it. Quality is deliberately modest (low confidence scores);
// it exists so generation degrades instead of dying when the API is down.
type HeuristicBackend struct{}

func NewHeuristicBackend() *HeuristicBackend { return &HeuristicBackend{} }

func (b *HeuristicBackend) Name() string { return "heuristic" }

var sentenceSplitRe = regexp.MustCompile(`[.!?]+\s+`)

var stopwords = map[string]bool{
	"about": true, "after": true, "also": true, "because": true, "before": true,
	"between": true, "could": true, "every": true, "first": true, "from": true,
	"have": true, "other": true, "should": true, "since": true,
	"their": true, "there": true, "these": true, "this": true, "those": true,
	"through": true, "under": true, "very": true, "when": true, "where": true,
	"which": true, "while": true, "with": true, "would": true,
}

func (b *HeuristicBackend) Generate(ctx context.Context, req Request) ([]map[string]any, error) {
	sentences := usableSentences(req.Text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("no usable sentences in source text")
	}
	terms := make([]string, 0, len(sentences))
	for _, s := range sentences {
		terms = append(terms, keyTerm(s))
	}

	out := make([]map[string]any, 0, req.Count)
	for i, sentence := range sentences {
		if len(out) == req.Count {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		term := terms[i]
		switch req.Types[i%len(req.Types)] {
		case TypeMultipleChoice:
			options := distinctTerms(terms, term, 4)
			if len(options) < 2 {
				continue
			}
			out = append(out, map[string]any{
				"question_text":    fmt.Sprintf("Which word completes the statement: %q?", blankTerm(sentence, term)),
				"question_type":    TypeMultipleChoice,
				"options":          options,
				"correct_answer":   term,
				"explanation":      fmt.Sprintf("The source material states: %q", sentence),
				"difficulty_level": req.Difficulty,
				"confidence_score": 0.35,
				"source_sentence":  sentence,
			})
		case TypeTrueFalse:
			statement := sentence
			answer := "true"
			if i%2 == 1 {
				if swap := pickOther(terms, term); swap != "" {
					statement = strings.Replace(sentence, term, swap, 1)
					answer = "false"
				}
			}
			out = append(out, map[string]any{
				"question_text":    fmt.Sprintf("True or false: %s", statement),
				"question_type":    TypeTrueFalse,
				"correct_answer":   answer,
				"explanation":      fmt.Sprintf("The source material states: %q", sentence),
				"difficulty_level": req.Difficulty,
				"confidence_score": 0.4,
				"source_sentence":  sentence,
			})
		case TypeShortAnswer:
			out = append(out, map[string]any{
				"question_text":    fmt.Sprintf("Fill in the missing word: %s", blankTerm(sentence, term)),
				"question_type":    TypeShortAnswer,
				"correct_answer":   term,
				"explanation":      fmt.Sprintf("The source material states: %q", sentence),
				"difficulty_level": req.Difficulty,
				"confidence_score": 0.3,
				"source_sentence":  sentence,
			})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("could not derive questions from source text")
	}
	return out, nil
}

// usableSentences keeps sentences long enough to carry a fact but short
// enough to read as a question stem.
func usableSentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimRight(p, ".!?"))
		words := len(strings.Fields(p))
		if words >= 6 && words <= 40 {
			out = append(out, p)
		}
	}
	return out
}

// keyTerm picks the longest non-stopword as the sentence's anchor.
func keyTerm(sentence string) string {
	best := ""
	for _, w := range strings.Fields(sentence) {
		w = strings.Trim(w, `.,;:"'()[]`)
		if len(w) > len(best) && !stopwords[strings.ToLower(w)] {
			best = w
		}
	}
	return best
}

func blankTerm(sentence, term string) string {
	return strings.Replace(sentence, term, "_____", 1)
}

func distinctTerms(terms []string, correct string, n int) []string {
	out := []string{correct}
	seen := map[string]bool{strings.ToLower(correct): true}
	for _, t := range terms {
		if len(out) == n {
			break
		}
		lt := strings.ToLower(t)
		if t == "" || seen[lt] {
			continue
		}
		seen[lt] = true
		out = append(out, t)
	}
	return out
}

func pickOther(terms []string, not string) string {
	for _, t := range terms {
		if t != "" && !strings.EqualFold(t, not) {
			return t
		}
	}
	return ""
}
