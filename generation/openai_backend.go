package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"quizforge-backend/openai"
)

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// OpenAIBackend adapts the chat-completion client to the Backend contract.
type OpenAIBackend struct {
	cli *openai.Client
}

func NewOpenAIBackend(cli *openai.Client) *OpenAIBackend {
	return &OpenAIBackend{cli: cli}
}

func (b *OpenAIBackend) Name() string { return b.cli.Model }

func (b *OpenAIBackend) Generate(ctx context.Context, req Request) ([]map[string]any, error) {
	if !b.cli.Available() {
		return nil, fmt.Errorf("openai backend not configured")
	}
	content, err := b.cli.GenerateQuestionsJSON(ctx, req.Text, req.Count, req.Types, req.Difficulty)
	if err != nil {
		return nil, err
	}
	return parseQuestionsPayload(content)
}

// parseQuestionsPayload digs the question array out of a completion. Models
// occasionally wrap the JSON in prose or markdown fences, so try the raw
// content first and fall back to the outermost brace pair.
func parseQuestionsPayload(content string) ([]map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty completion")
	}

	var payload struct {
		Questions []map[string]any `json:"questions"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		frag := jsonObjectRe.FindString(content)
		if frag == "" {
			return nil, fmt.Errorf("no JSON object in completion: %w", err)
		}
		if err := json.Unmarshal([]byte(frag), &payload); err != nil {
			return nil, fmt.Errorf("malformed completion JSON: %w", err)
		}
	}
	if len(payload.Questions) == 0 {
		return nil, fmt.Errorf("completion carried no questions")
	}
	return payload.Questions, nil
}
