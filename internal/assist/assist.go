// Package assist drafts flashcards from free-form notes using Claude.
//
// The model is asked for a strict JSON array of front/back pairs; anything
// it returns is parsed, validated, and capped before a draft reaches the
// caller. Drafts are suggestions for review, never written to the store
// here.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel = "claude-sonnet-4-5"

	// maxNotesBytes bounds the notes so a stray file paste does not turn
	// into an oversized request.
	maxNotesBytes = 16 * 1024

	defaultCount = 5
	maxCount     = 20
)

const systemPrompt = `You draft spaced-repetition flashcards from study notes.
Each card has a short question on the front and a concise answer on the back.
Cards must be self-contained and test one fact each.
Respond with a JSON array only, no prose and no code fences:
[{"front": "...", "back": "..."}]`

// CardDraft is one suggested card.
type CardDraft struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Config holds drafter settings.
type Config struct {
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string

	// Model names the Claude model to use.
	Model string

	// Logger for request activity.
	Logger *log.Logger
}

// Drafter turns notes into card drafts.
type Drafter struct {
	complete func(ctx context.Context, prompt string) (string, error)
	logger   *log.Logger
}

// NewDrafter creates a drafter backed by the Anthropic API.
func NewDrafter(config *Config) *Drafter {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[assist] ", log.LstdFlags)
	}

	var opts []option.RequestOption
	if config.APIKey != "" {
		opts = append(opts, option.WithAPIKey(config.APIKey))
	}
	client := anthropic.NewClient(opts...)

	model := anthropic.Model(defaultModel)
	if config.Model != "" {
		model = anthropic.Model(config.Model)
	}

	return &Drafter{
		logger: logger,
		complete: func(ctx context.Context, prompt string) (string, error) {
			msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     model,
				MaxTokens: 2048,
				System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
				},
			})
			if err != nil {
				return "", err
			}
			var text strings.Builder
			for _, block := range msg.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
				}
			}
			return text.String(), nil
		},
	}
}

// Draft asks for n cards covering the notes. A zero n asks for a default
// batch; n beyond the cap is clamped.
func (d *Drafter) Draft(ctx context.Context, notes string, n int) ([]CardDraft, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, fmt.Errorf("notes are empty")
	}
	if len(notes) > maxNotesBytes {
		return nil, fmt.Errorf("notes too long: %d bytes (limit %d)", len(notes), maxNotesBytes)
	}
	if n <= 0 {
		n = defaultCount
	}
	if n > maxCount {
		n = maxCount
	}

	d.logger.Printf("Drafting %d cards from %d bytes of notes", n, len(notes))
	text, err := d.complete(ctx, buildPrompt(notes, n))
	if err != nil {
		return nil, fmt.Errorf("draft request failed: %w", err)
	}

	drafts, err := parseDrafts(text)
	if err != nil {
		return nil, err
	}
	if len(drafts) > n {
		drafts = drafts[:n]
	}
	d.logger.Printf("Model returned %d drafts", len(drafts))
	return drafts, nil
}

func buildPrompt(notes string, n int) string {
	return fmt.Sprintf("Draft up to %d flashcards from these notes:\n\n%s", n, notes)
}

// parseDrafts decodes the model's reply. A code fence around the array is
// tolerated; anything else non-JSON is an error.
func parseDrafts(text string) ([]CardDraft, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = stripFence(trimmed)

	var drafts []CardDraft
	if err := json.Unmarshal([]byte(trimmed), &drafts); err != nil {
		return nil, fmt.Errorf("model returned malformed drafts: %w", err)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("model returned no drafts")
	}
	for i, draft := range drafts {
		if strings.TrimSpace(draft.Front) == "" || strings.TrimSpace(draft.Back) == "" {
			return nil, fmt.Errorf("draft %d is missing a side", i+1)
		}
	}
	return drafts, nil
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimSuffix(text, "```")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	}
	return strings.TrimSpace(text)
}
