package openai

import (
	"context"
	"os"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type Client struct {
	api   *openai.Client
	Model string
}

func NewClient() *Client {
	key := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	var api *openai.Client
	if key != "" {
		api = openai.NewClient(key)
	}
	return &Client{api: api, Model: model}
}

// Available reports whether an API key was configured.
func (c *Client) Available() bool { return c.api != nil }

// GenerateQuestionsJSON asks the model for a strict-JSON question set and
// returns the raw completion content. The caller owns parsing and
// normalization.
func (c *Client) GenerateQuestionsJSON(ctx context.Context, text string, n int, types []string, difficulty string) (string, error) {
	sb := strings.Builder{}
	sb.WriteString("Generate quiz questions from the study material below.\n\n")
	sb.WriteString("=== STUDY MATERIAL ===\n")
	sb.WriteString(text)
	sb.WriteString("\n\n=== TASK ===\n")
	sb.WriteString("Create ")
	sb.WriteString(strconv.Itoa(n))
	sb.WriteString(" questions of difficulty ")
	sb.WriteString(difficulty)
	sb.WriteString(" using only these types: ")
	sb.WriteString(strings.Join(types, ", "))
	sb.WriteString(".\n")

	instr := strings.Join([]string{
		"Respond with a single valid JSON object and nothing else.",
		`The object has one key "questions": an array of question objects.`,
		"Each question has: question_text(string), question_type(one of the requested types),",
		"correct_answer(string), explanation(string), difficulty_level(string),",
		"topic(string), keywords(array<string>), bloom_taxonomy_level(string),",
		"confidence_score(number between 0 and 1), source_sentence(string from the material).",
		"options(array of 4 strings, exactly one correct) ONLY when question_type=multiple_choice.",
		"For true_false the correct_answer is \"true\" or \"false\".",
		"Base every question strictly on the provided material; do not invent facts.",
		"Do not repeat or rephrase the same question twice.",
	}, " ")

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instr},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
