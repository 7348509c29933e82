package oracle

import (
	"math"
	"testing"
)

// legacyBody mirrors a Together echo response: parallel token arrays on the
// choice plus prompt-side scores.
const legacyBody = `{
  "choices": [
    {
      "message": {"role": "assistant", "content": ""},
      "logprobs": {
        "tokens": ["<|eot_id|>"],
        "token_logprobs": [-0.25]
      }
    }
  ],
  "prompt": [
    {
      "logprobs": {
        "tokens": ["I", " agree", "."],
        "token_logprobs": [-0.1, -0.5, -0.02]
      }
    }
  ]
}`

// modernBody mirrors the current OpenAI shape with nested content entries.
const modernBody = `{
  "choices": [
    {
      "message": {"role": "assistant", "content": "hello"},
      "logprobs": {
        "content": [
          {"token": "hel", "logprob": -0.3},
          {"token": "lo", "logprob": -0.7}
        ]
      }
    }
  ]
}`

func TestParseResponse_LegacyShape(t *testing.T) {
	resp := parseResponse(legacyBody)

	if got, want := len(resp.Tokens), 1; got != want {
		t.Fatalf("choice tokens: got %d, want %d", got, want)
	}
	if resp.Tokens[0] != "<|eot_id|>" {
		t.Errorf("choice token: got %q", resp.Tokens[0])
	}
	if math.Abs(resp.LogProbs[0]-(-0.25)) > 1e-12 {
		t.Errorf("choice logprob: got %v", resp.LogProbs[0])
	}

	if got, want := len(resp.PromptTokens), 3; got != want {
		t.Fatalf("prompt tokens: got %d, want %d", got, want)
	}
	if resp.PromptTokens[1] != " agree" {
		t.Errorf("prompt token: got %q", resp.PromptTokens[1])
	}
	if got, want := len(resp.PromptLogProbs), 3; got != want {
		t.Fatalf("prompt logprobs: got %d, want %d", got, want)
	}
	if math.Abs(resp.PromptLogProbs[2]-(-0.02)) > 1e-12 {
		t.Errorf("prompt logprob: got %v", resp.PromptLogProbs[2])
	}
}

func TestParseResponse_ModernShape(t *testing.T) {
	resp := parseResponse(modernBody)

	if got, want := len(resp.Tokens), 2; got != want {
		t.Fatalf("tokens: got %d, want %d", got, want)
	}
	if resp.Tokens[0] != "hel" || resp.Tokens[1] != "lo" {
		t.Errorf("tokens: got %v", resp.Tokens)
	}
	if math.Abs(resp.LogProbs[1]-(-0.7)) > 1e-12 {
		t.Errorf("logprob: got %v", resp.LogProbs[1])
	}
	if resp.PromptTokens != nil || resp.PromptLogProbs != nil {
		t.Errorf("expected no prompt scores, got %v / %v", resp.PromptTokens, resp.PromptLogProbs)
	}
}

func TestParseResponse_MissingLogProbs(t *testing.T) {
	resp := parseResponse(`{"choices":[{"message":{"content":"hi"}}]}`)
	if len(resp.Tokens) != 0 || len(resp.LogProbs) != 0 {
		t.Errorf("expected empty scores, got %v / %v", resp.Tokens, resp.LogProbs)
	}
}
