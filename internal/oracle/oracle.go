// Package oracle is the language-model completion boundary. Every pipeline
// stage goes through the Client interface: one synchronous call, prompt in,
// text plus per-token log probabilities out. The production client speaks to
// a Together-compatible chat completions endpoint.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Model is the fixed completion model. Every stage scores tokens under the
// same model; changing it invalidates all stored log probabilities.
const Model = "meta-llama/Meta-Llama-3.1-405B-Instruct-Turbo"

// DefaultBaseURL is the Together chat completions endpoint.
const DefaultBaseURL = "https://api.together.xyz/v1"

// ErrNoLogProbs is wrapped by stages when the endpoint answered but omitted
// the per-token log-probability data the stage asked for. Recoverable: the
// affected user or question is skipped for the round.
var ErrNoLogProbs = errors.New("oracle: response contained no logprobs")

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Request describes a single completion call.
type Request struct {
	Messages  []Message
	MaxTokens int
	// LogProbs requests per-token log probabilities.
	LogProbs bool
	// Echo makes the endpoint score the supplied assistant turn as if it had
	// generated it, instead of generating freely. Combined with MaxTokens 0
	// the completion itself is just the end token.
	Echo bool
}

// Response carries the completion text and token-level scores. PromptTokens
// and PromptLogProbs are populated only on echo requests, where the endpoint
// also scores the echoed prompt side.
type Response struct {
	Text           string
	Tokens         []string
	LogProbs       []float64
	PromptTokens   []string
	PromptLogProbs []float64
}

// Client is the interface stages call. Implementations make exactly one
// request per Complete call and never retry; retry policy, if any, belongs
// to the driver.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// NewClient is the factory for the production client. It is a package-level
// variable so tests can replace it with a mock without modifying call sites.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewClient func(baseURL string) (Client, error) = defaultNewClient

// togetherClient implements Client against a Together-compatible endpoint
// using the OpenAI SDK. openai.Client is a value type; the SDK's NewClient
// returns it by value.
type togetherClient struct {
	client openai.Client
}

func defaultNewClient(baseURL string) (Client, error) {
	apiKey := os.Getenv("TOGETHER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("oracle: TOGETHER_API_KEY environment variable not set")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL))
	return &togetherClient{client: client}, nil
}

func (c *togetherClient) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(Model),
		Messages: msgs,
	}

	// max_tokens goes through the raw body so that 0 is sent explicitly:
	// the evaluate stage relies on max_tokens=0 meaning "emit only the end
	// token". The echo flag and the integer logprobs form are Together
	// extensions absent from the typed params.
	opts := []option.RequestOption{
		option.WithJSONSet("max_tokens", req.MaxTokens),
	}
	if req.LogProbs {
		opts = append(opts, option.WithJSONSet("logprobs", 1))
	}
	if req.Echo {
		opts = append(opts, option.WithJSONSet("echo", true))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, fmt.Errorf("oracle: chat.completions.new: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("oracle: response contained no choices")
	}

	resp := parseResponse(completion.RawJSON())
	resp.Text = strings.TrimSpace(completion.Choices[0].Message.Content)
	return resp, nil
}
