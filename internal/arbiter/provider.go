package arbiter

import (
	"fmt"

	"github.com/credence-ai/credence/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
	ProviderNone   = "none"
)

// NewArbiter creates a contradiction arbiter based on the provider name.
// "none" returns a nil arbiter, which means the timestamp-wins fallback
// policy decides every contradiction.
func NewArbiter(provider, apiKey string) (domain.Arbiter, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI arbiter provider")
		}
		return NewOpenAIArbiter(apiKey), nil

	case ProviderMock:
		return NewMockArbiter(), nil

	case ProviderNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown arbiter provider: %s (valid options: openai, mock, none)", provider)
	}
}
