package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"go.uber.org/zap"
)

const (
	DefaultSummaryModel = "gpt-4o-mini"
	summaryPromptLimit  = 8000
	fallbackLines       = 8
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SummaryConfig points at an OpenAI-compatible chat completions endpoint.
// An empty APIKey disables the remote call.
type SummaryConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// SummaryService explains scrubbed report text in plain language. Without a
// configured model, or when the upstream call fails, it returns the
// model-free fallback.
type SummaryService struct {
	cfg    SummaryConfig
	client HTTPClient
	logger *zap.Logger
}

func NewSummaryService(cfg SummaryConfig, client HTTPClient, logger *zap.Logger) *SummaryService {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultSummaryModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SummaryService{cfg: cfg, client: client, logger: logger.Named("summary")}
}

func (s *SummaryService) Enabled() bool {
	return strings.TrimSpace(s.cfg.APIKey) != ""
}

func (s *SummaryService) Summarize(ctx context.Context, text, language string) string {
	lang := NormalizeLanguage(language)
	if !s.Enabled() {
		return FallbackSummary(text, lang)
	}
	out, err := s.complete(ctx, text, lang)
	if err != nil {
		s.logger.Warn("summary model unavailable", zap.Error(err))
		return "(Summary model unavailable)\n\n" + FallbackSummary(text, lang)
	}
	return out
}

func (s *SummaryService) complete(ctx context.Context, text, lang string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	payload := map[string]any{
		"model":       s.cfg.Model,
		"temperature": 0.2,
		"max_tokens":  700,
		"messages": []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt()),
			openai.UserMessage(summaryUserPrompt(text, lang)),
		},
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, normalizeOpenAIEndpoint(s.cfg.BaseURL), bytes.NewReader(pb))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", NewBadGatewayError(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", NewBadGatewayError(fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}
	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cc); err != nil {
		return "", NewBadGatewayError(err.Error())
	}
	if len(cc.Choices) == 0 || strings.TrimSpace(cc.Choices[0].Message.Content) == "" {
		return "", NewBadGatewayError("no choices")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

func summarySystemPrompt() string {
	return "You explain lab reports safely, without medical advice."
}

func summaryUserPrompt(text, lang string) string {
	if len(text) > summaryPromptLimit {
		text = strings.ToValidUTF8(text[:summaryPromptLimit], "")
	}
	return "Summarize the NON-IDENTIFIABLE text below in " + lang + ", using short bullet points.\n" +
		"Do NOT provide medical advice, diagnosis, or treatment. Clearly state that users must consult a licensed clinician.\n" +
		"Focus on what the values mean directionally (high/low/normal), but avoid prescribing actions.\n\n" +
		"Text (already scrubbed of PHI):\n\"\"\"" + text + "\"\"\""
}

// FallbackSummary previews the first non-empty lines of the report under a
// banner naming the language.
func FallbackSummary(text, lang string) string {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
		if len(lines) == fallbackLines {
			break
		}
	}
	preview := "No readable text."
	if len(lines) > 0 {
		preview = "\n• " + strings.Join(lines, "\n• ")
	}
	return fmt.Sprintf("Summary preview (%s), model-free fallback:\n%s\n\nFor complete explanations, configure a summary model.", lang, preview)
}

func normalizeOpenAIEndpoint(base string) string {
	endpoint := strings.TrimRight(strings.TrimSpace(base), "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com"
	}
	switch {
	case strings.HasSuffix(endpoint, "/chat/completions"):
		return endpoint
	case strings.HasSuffix(endpoint, "/v1"):
		return endpoint + "/chat/completions"
	default:
		return endpoint + "/v1/chat/completions"
	}
}
