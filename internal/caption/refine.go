package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/pbaille/taxo/internal/taxonomy"
)

const anthropicAPI = "https://api.anthropic.com/v1/messages"

// Refiner rewrites the captions of another captioner into concise,
// distinct category names with a language model.
type Refiner struct {
	base     taxonomy.Captioner
	apiKey   string
	model    string
	endpoint string
	log      *slog.Logger
}

// NewRefiner wraps base. It needs ANTHROPIC_API_KEY.
func NewRefiner(base taxonomy.Captioner, log *slog.Logger) (*Refiner, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Refiner{
		base:     base,
		apiKey:   apiKey,
		model:    "claude-sonnet-4-20250514",
		endpoint: anthropicAPI,
		log:      log,
	}, nil
}

// Captions refines the base captions. When the model call fails the base
// captions are returned unchanged.
func (r *Refiner) Captions(ctx context.Context, subjects []string) ([]string, error) {
	captions, err := r.base.Captions(ctx, subjects)
	if err != nil {
		return nil, err
	}

	var idx []int
	var raw []string
	for i, c := range captions {
		if c != "" {
			idx = append(idx, i)
			raw = append(raw, c)
		}
	}
	if len(raw) == 0 {
		return captions, nil
	}

	resp, err := r.callAPI(ctx, buildPrompt(raw))
	if err != nil {
		r.log.Warn("refine captions failed", "captions", len(raw), "error", err)
		return captions, nil
	}
	names, err := parseResponse(resp)
	if err != nil || len(names) != len(raw) {
		r.log.Warn("refine captions: unusable response", "captions", len(raw), "names", len(names), "error", err)
		return captions, nil
	}

	out := make([]string, len(captions))
	copy(out, captions)
	for j, i := range idx {
		if name := Cut(strings.TrimSpace(names[j]), MaxLength); name != "" {
			out[i] = name
		}
	}
	return out, nil
}

func buildPrompt(captions []string) string {
	var sb strings.Builder

	sb.WriteString("Each line below describes one group of similar items. ")
	sb.WriteString("Turn each description into a short category name. Return JSON only.\n\n")
	for _, c := range captions {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Return a JSON array of strings, one name per line above, in the same order:
["name one", "name two"]

Rules:
- At most 3 words and 30 characters per name
- Names should be distinct from each other
- Keep the wording of the description when it is already short

Return ONLY the JSON, no other text.`)

	return sb.String()
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *Refiner) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := apiRequest{
		Model:     r.model,
		MaxTokens: 1024,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", r.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return apiResp.Content[0].Text, nil
}

func parseResponse(resp string) ([]string, error) {
	// Remove markdown code blocks if present
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var names []string
	if err := json.Unmarshal([]byte(resp), &names); err != nil {
		return nil, fmt.Errorf("parse json: %w (response: %s)", err, resp)
	}

	return names, nil
}
