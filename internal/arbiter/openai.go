package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/credence-ai/credence/internal/domain"
)

const (
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	chatModel     = "gpt-4o-mini"
)

const arbitrationPrompt = `You are resolving a contradiction between two stored facts about the same subject and predicate.

Existing fact: %q (confidence %d, recorded %s)
New fact: %q (confidence %d)

Answer with exactly one word:
- SUPERSEDE if the new fact replaces the existing one
- UPDATE if the two should be merged into one fact
- NONE if the new fact should be discarded`

// OpenAIArbiter asks a chat model to pick between contradicting facts.
type OpenAIArbiter struct {
	apiKey     string
	httpClient *http.Client
}

func NewOpenAIArbiter(apiKey string) *OpenAIArbiter {
	return &OpenAIArbiter{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *OpenAIArbiter) Resolve(ctx context.Context, existing, candidate *domain.Fact) (domain.Action, error) {
	prompt := fmt.Sprintf(arbitrationPrompt,
		existing.Value, existing.Confidence, existing.UpdatedAt.Format("2006-01-02"),
		candidate.Value, candidate.Confidence,
	)

	answer, err := a.complete(ctx, []chatMessage{{Role: "user", Content: prompt}}, 0)
	if err != nil {
		return "", err
	}

	switch strings.ToUpper(strings.TrimSpace(answer)) {
	case "SUPERSEDE":
		return domain.ActionSupersede, nil
	case "UPDATE":
		return domain.ActionUpdate, nil
	case "NONE":
		return domain.ActionNone, nil
	default:
		return "", fmt.Errorf("arbiter returned unexpected answer: %q", answer)
	}
}

func (a *OpenAIArbiter) complete(ctx context.Context, messages []chatMessage, temp float32) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       chatModel,
		Messages:    messages,
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	return result.Choices[0].Message.Content, nil
}
