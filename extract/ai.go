package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/go-resty/resty/v2"

	"beanscout/config"
	"beanscout/fetch"
	"beanscout/normalize"
)

// maxPromptChars bounds how much page text is sent to the model. Product
// pages past this size are navigation noise, not product copy.
const maxPromptChars = 12000

const systemPrompt = `You extract structured coffee product data from roaster web pages.
Respond with a single JSON object using these keys where present on the page:
name, price, currency, weight, roast_level, roast_profile, description,
tasting_notes (array of strings), cupping_score, in_stock (boolean),
is_decaf (boolean), is_single_origin (boolean), image_url,
origins (array of objects with country, region, farm, producer, elevation, variety, process).
Omit keys you cannot determine. Never invent values.`

// ModelClient is one call to a vision/chat model. The production
// implementation speaks the OpenAI chat-completions protocol; tests stub it.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is one model invocation.
type CompletionRequest struct {
	Model     string
	Prompt    string
	Image     []byte // optional full-page PNG
	MaxTokens int
}

// OpenAIClient talks to an OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	client  *resty.Client
	baseURL string
}

// NewOpenAIClient builds the chat-completions client from config.
func NewOpenAIClient(cfg config.AIConfig) *OpenAIClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetHeader("content-type", "application/json")

	return &OpenAIClient{client: client, baseURL: cfg.BaseURL}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat completion and returns the raw message content.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	userContent := any(req.Prompt)
	if len(req.Image) > 0 {
		userContent = []contentPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &imageURL{
				URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Image),
			}},
		}
	}

	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		MaxTokens: req.MaxTokens,
	}
	body.ResponseFormat.Type = "json_object"

	// Some gateways omit the JSON content type, especially on error bodies;
	// decode the response as JSON regardless.
	var parsed chatResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		ForceContentType("application/json").
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if res.IsError() {
		msg := res.Status()
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("chat completion: %s", msg)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// AIExtractor runs an attempt plan against the model client until one
// attempt yields a usable record.
type AIExtractor struct {
	client    ModelClient
	liteModel string
	fullModel string
	maxTokens int
}

// NewAIExtractor wires the model-assisted extractor. The tier names in the
// plan resolve to the configured lite and full model identifiers.
func NewAIExtractor(client ModelClient, cfg config.AIConfig) *AIExtractor {
	return &AIExtractor{
		client:    client,
		liteModel: cfg.LiteModel,
		fullModel: cfg.FullModel,
		maxTokens: cfg.MaxTokens,
	}
}

// Extract walks the plan in order, stopping at the first attempt whose reply
// parses into a record with a non-empty name. All other fields are
// best-effort. When the plan is exhausted it returns the attempt history
// inside an *ExtractionFailure.
func (x *AIExtractor) Extract(ctx context.Context, page *fetch.Page, plan []Attempt) (*normalize.RawRecord, []AttemptResult, error) {
	prompt := buildPrompt(page)
	attempts := make([]AttemptResult, 0, len(plan))

	for _, attempt := range plan {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		model := x.liteModel
		if attempt.Tier == TierFull {
			model = x.fullModel
		}
		var image []byte
		if attempt.Screenshot {
			image = page.Screenshot
		}

		reply, err := x.client.Complete(ctx, CompletionRequest{
			Model:     model,
			Prompt:    prompt,
			Image:     image,
			MaxTokens: x.maxTokens,
		})
		if err == nil {
			var raw *normalize.RawRecord
			raw, err = parseModelReply(reply)
			if err == nil {
				attempts = append(attempts, AttemptResult{Tier: attempt.Tier, Screenshot: attempt.Screenshot})
				return raw, attempts, nil
			}
		}

		attempts = append(attempts, AttemptResult{Tier: attempt.Tier, Screenshot: attempt.Screenshot, Err: err})
		slog.DebugContext(ctx, "extraction attempt failed",
			slog.String("url", page.URL),
			slog.String("tier", string(attempt.Tier)),
			slog.Bool("screenshot", attempt.Screenshot),
			slog.Any("error", err),
		)
	}

	return nil, attempts, &ExtractionFailure{URL: page.URL, Attempts: attempts}
}

// buildPrompt prepares the page for the model: readability-extracted article
// text when it parses, raw visible text otherwise, truncated to the prompt
// budget.
func buildPrompt(page *fetch.Page) string {
	text := ""
	if parsed, err := url.Parse(page.URL); err == nil {
		if article, err := readability.FromReader(strings.NewReader(page.HTML), parsed); err == nil {
			text = strings.TrimSpace(article.TextContent)
		}
	}
	if text == "" && page.Doc != nil {
		text = strings.TrimSpace(page.Doc.Text())
	}
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	return fmt.Sprintf("Product page URL: %s\nFetched: %s\n\nPage content:\n%s", page.URL, page.FetchedAt.Format(time.RFC3339), text)
}

// parseModelReply unmarshals the model's JSON, tolerating markdown code
// fences, and enforces the minimum usability bar of a non-empty name.
func parseModelReply(reply string) (*normalize.RawRecord, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var raw normalize.RawRecord
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("parse model reply: %w", err)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return nil, fmt.Errorf("model reply has no product name")
	}
	return &raw, nil
}
