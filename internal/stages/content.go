package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/caltechlibrary/documentarist/internal/cache"
	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/logger"
	"github.com/caltechlibrary/documentarist/internal/pipeline"
)

const (
	// DefaultDescribeModel is the completion model used when none is
	// configured.
	DefaultDescribeModel = "gpt-4o-mini"

	// maxPromptChars bounds how much recognized text goes into the prompt.
	maxPromptChars = 8000
)

// ChatCompleter is the part of the OpenAI client the content stage uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ContentDescriber summarizes what a document is about by asking a chat
// completion model to read the recognized text. Completions are resolved
// through the service call cache keyed on the prompt and model, so a re-run
// does not repeat the call.
type ContentDescriber struct {
	client      ChatCompleter
	resolver    *cache.Resolver
	model       string
	temperature float32
	log         zerolog.Logger
}

// NewContentDescriber creates the stage. An empty model selects
// DefaultDescribeModel.
func NewContentDescriber(client ChatCompleter, resolver *cache.Resolver, model string) *ContentDescriber {
	if model == "" {
		model = DefaultDescribeModel
	}
	return &ContentDescriber{
		client:      client,
		resolver:    resolver,
		model:       model,
		temperature: 0.1,
		log:         logger.WithStage("stages", string(document.TagContent)),
	}
}

// Tag implements pipeline.Stage.
func (s *ContentDescriber) Tag() document.Tag { return document.TagContent }

// Requires implements pipeline.Stage.
func (s *ContentDescriber) Requires() []document.Tag { return []document.Tag{document.TagText} }

// Apply implements pipeline.Stage.
func (s *ContentDescriber) Apply(ctx context.Context, task pipeline.Task) (*document.Payload, error) {
	frag := task.Fragment(document.TagText)
	if frag == nil || frag.Text == nil {
		return nil, pipeline.MarkPermanent(errors.New("recognized text unavailable"))
	}

	text := strings.TrimSpace(frag.Text.Full)
	if text == "" {
		// Nothing to describe; do not spend a completion call on a blank page.
		s.log.Debug().
			Str("document", task.Input.ID).
			Msg("No recognized text, recording empty summary")
		return &document.Payload{Content: &document.ContentSummary{}}, nil
	}

	prompt := buildDescribePrompt(text)
	key := cache.Key{
		Service:     "openai/describe",
		ContentHash: cache.HashBytes([]byte(prompt)),
		Params:      s.model,
	}
	entry, fromCache, err := s.resolver.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		summary, err := s.complete(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return json.Marshal(summary)
	})
	if err != nil {
		return nil, err
	}

	var summary document.ContentSummary
	if err := json.Unmarshal(entry.Payload, &summary); err != nil {
		return nil, pipeline.MarkPermanent(fmt.Errorf("decode stored summary: %w", err))
	}

	s.log.Debug().
		Str("document", task.Input.ID).
		Str("model", s.model).
		Bool("cached", fromCache).
		Str("doc_type", summary.DocType).
		Msg("Content description resolved")

	return &document.Payload{Content: &summary}, nil
}

// complete asks the chat model to describe the document and parses its JSON
// reply. Malformed replies are marked transient: re-issuing the completion
// routinely fixes truncated or fenced output.
func (s *ContentDescriber) complete(ctx context.Context, prompt string) (*document.ContentSummary, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		MaxTokens:   600,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: describeSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return nil, classifyCompletionError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, pipeline.MarkTransient(errors.New("no completion choices returned"))
	}

	reply := resp.Choices[0].Message.Content
	summary, err := parseSummary(reply)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("response", reply).
			Msg("Unparseable completion reply")
		return nil, pipeline.MarkTransient(err)
	}
	return summary, nil
}

// classifyCompletionError separates completion failures worth retrying from
// those that will repeat: rate limits, server errors and transport failures
// are transient, while authentication and request errors are permanent.
func classifyCompletionError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return pipeline.MarkTransient(err)
		}
		return pipeline.MarkPermanent(err)
	}
	return pipeline.MarkTransient(err)
}

const describeSystemPrompt = `You describe scanned historical documents for an archival catalog.
Given the text recognized on a document image, summarize what the document is
about. Reply with ONLY a JSON object, no surrounding text, in this form:
{
  "description": "one or two sentences describing the document",
  "subjects": ["up to five topical keywords"],
  "doc_type": "letter | telegram | memo | form | report | photograph | other",
  "language": "primary language of the document, as an English word"
}
The recognized text may contain recognition mistakes; describe the document
anyway and do not comment on text quality. Use null for fields you cannot
determine. Do NOT wrap the JSON in code fences and do NOT add a trailing
comma after the last field.`

// buildDescribePrompt assembles the user prompt, bounding the recognized
// text and keeping the cut on a rune boundary.
func buildDescribePrompt(text string) string {
	if len(text) > maxPromptChars {
		cut := maxPromptChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	var b strings.Builder
	b.WriteString("Text recognized on the document:\n\n")
	b.WriteString(text)
	return b.String()
}

// parseSummary decodes the model's JSON reply, tolerating the code fences
// some models add despite instructions.
func parseSummary(reply string) (*document.ContentSummary, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var raw struct {
		Description string   `json:"description"`
		Subjects    []string `json:"subjects"`
		DocType     string   `json:"doc_type"`
		Language    string   `json:"language"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("parse completion reply: %w", err)
	}
	if strings.TrimSpace(raw.Description) == "" {
		return nil, errors.New("completion reply missing description")
	}

	summary := &document.ContentSummary{
		Description: strings.TrimSpace(raw.Description),
		DocType:     strings.ToLower(strings.TrimSpace(raw.DocType)),
		Language:    strings.TrimSpace(raw.Language),
	}
	for _, subject := range raw.Subjects {
		if subject = strings.TrimSpace(subject); subject != "" {
			summary.Subjects = append(summary.Subjects, subject)
		}
	}
	return summary, nil
}
