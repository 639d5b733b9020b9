package generation

import (
	"strings"
	"unicode"
)

// normalize turns one backend map into a canonical Question. ok=false drops
// the candidate silently; a bad item from a model never fails the whole run.
func normalize(raw map[string]any, req Request) (Question, bool) {
	q := Question{
		QuestionText:    strings.TrimSpace(stringField(raw, "question_text", "question", "text")),
		QuestionType:    CanonicalType(stringField(raw, "question_type", "type")),
		CorrectAnswer:   strings.TrimSpace(stringField(raw, "correct_answer", "answer")),
		Explanation:     strings.TrimSpace(stringField(raw, "explanation")),
		DifficultyLevel: strings.ToLower(strings.TrimSpace(stringField(raw, "difficulty_level", "difficulty"))),
		Topic:           strings.TrimSpace(stringField(raw, "topic")),
		BloomLevel:      strings.ToLower(strings.TrimSpace(stringField(raw, "bloom_taxonomy_level", "bloom_level"))),
		SourceSentence:  strings.TrimSpace(stringField(raw, "source_sentence")),
		Keywords:        stringSliceField(raw, "keywords"),
		Confidence:      clamp01(floatField(raw, "confidence_score", "confidence")),
	}
	if q.QuestionText == "" || q.CorrectAnswer == "" {
		return Question{}, false
	}
	if !requestedType(q.QuestionType, req.Types) {
		return Question{}, false
	}
	switch q.DifficultyLevel {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		q.DifficultyLevel = req.Difficulty
	}

	switch q.QuestionType {
	case TypeMultipleChoice:
		q.Options = stringSliceField(raw, "options", "choices")
		if len(q.Options) < 2 {
			return Question{}, false
		}
		// The answer has to be one of the options; adopt the option's
		// exact spelling when the model only got the casing wrong.
		matched := false
		for _, opt := range q.Options {
			if strings.EqualFold(strings.TrimSpace(opt), q.CorrectAnswer) {
				q.CorrectAnswer = opt
				matched = true
				break
			}
		}
		if !matched {
			return Question{}, false
		}
	case TypeTrueFalse:
		q.Options = []string{"true", "false"}
		switch strings.ToLower(q.CorrectAnswer) {
		case "true", "t", "yes", "verdadero":
			q.CorrectAnswer = "true"
		case "false", "f", "no", "falso":
			q.CorrectAnswer = "false"
		default:
			return Question{}, false
		}
	case TypeShortAnswer:
		q.Options = nil
	}
	return q, true
}

// dedupeKey lowercases and strips everything but letters and digits so
// trivially rephrased duplicates ("What is DNA?" / "what is dna") collide.
func dedupeKey(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func requestedType(t string, types []string) bool {
	for _, rt := range types {
		if rt == t {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func stringSliceField(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		switch vv := raw.(type) {
		case []string:
			return vv
		case []any:
			out := make([]string, 0, len(vv))
			for _, item := range vv {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func floatField(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
