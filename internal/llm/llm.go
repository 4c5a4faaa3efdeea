package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
)

// ErrGeneration wraps any failure to obtain a usable structured response:
// transport errors, refusals, and malformed output all surface here so the
// caller can offer a retry instead of crashing the pipeline.
var ErrGeneration = errors.New("question generation failed")

// StructuredExam is the validated result of asking the model to structure
// raw document text into exam questions.
type StructuredExam struct {
	Title     string               `json:"title" validate:"required"`
	Questions []StructuredQuestion `json:"questions" validate:"required,min=1,dive"`
}

// StructuredQuestion is one question as returned by the model. The correct
// answer may arrive as a letter or an index; normalization happens at the
// ingestion boundary, not here.
type StructuredQuestion struct {
	Text          string   `json:"text" validate:"required"`
	Type          string   `json:"type" validate:"omitempty,oneof=multiple_choice essay true_false"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Points        int      `json:"points" validate:"omitempty,min=0"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api      *openai.Client
	model    string
	validate *validator.Validate
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:      openai.NewClientWithConfig(config),
		model:    modelName,
		validate: validator.New(),
	}
}

// Ping verifies the endpoint responds at all, so a bad URL or key fails at
// startup rather than on the first teacher upload.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("LLM endpoint check: %w", err)
	}
	return nil
}

// Structure asks the model to turn raw document text into a titled question
// list. rawText is truncated to maxChars before the request to bound cost.
// The response is parsed and shape-checked before any field is trusted.
func (c *Client) Structure(ctx context.Context, rawText string, maxChars int) (*StructuredExam, error) {
	rawText = TruncateForPrompt(rawText, maxChars)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: structureSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: rawText},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model returned no choices", ErrGeneration)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("structuring response", "raw", raw)

	var result StructuredExam
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrGeneration, err)
	}
	if err := c.validate.Struct(&result); err != nil {
		return nil, fmt.Errorf("%w: response shape: %v", ErrGeneration, err)
	}

	return &result, nil
}

// Tutor answers a student's study question in a short chat exchange.
func (c *Client) Tutor(ctx context.Context, history []string, question string) (string, error) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: tutorSystemPrompt},
	}
	// History alternates student/assistant, oldest first.
	for i, m := range history {
		role := openai.ChatMessageRoleUser
		if i%2 == 1 {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("tutor chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("tutor chat: model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

const structureSystemPrompt = `You are an exam digitization assistant. The user message contains the raw text of an exam document, possibly in Vietnamese, possibly with LaTeX-style math markup. Extract a short exam title and the list of questions.

For each question decide its type:
- "multiple_choice" when answer options are present; list the option texts in order (without their A/B/C/D labels) and give the correct option's letter label in correct_answer if the document marks it, otherwise leave correct_answer empty.
- "true_false" when the question asks for true/false; set correct_answer to "true" or "false" if known.
- "essay" otherwise; leave options empty and correct_answer empty.

Keep the question text exactly as written, including math markup. Do not invent questions that are not in the document.

Respond ONLY with a JSON object:
{"title": "<title>", "questions": [{"text": "<question>", "type": "<multiple_choice|true_false|essay>", "options": ["...", "..."], "correct_answer": "<letter or true/false or empty>", "points": <integer, 0 if unknown>}]}`

const tutorSystemPrompt = `You are a patient study tutor for secondary-school students. Answer in the language the student writes in. Explain step by step, but never just hand over final answers to what is clearly a graded exam question; guide the student toward the method instead.`

// TruncateForPrompt exposes the truncation rule for callers that need to
// show the user how much of their document will be sent.
func TruncateForPrompt(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
