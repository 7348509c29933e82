// Package fill instantiates a blank template for one user: it primes the
// oracle with the user's source material, asks for a filled version of the
// template, and captures the generation's own token scores.
package fill

import (
	"context"
	"fmt"
	"strings"

	"latentloop/internal/oracle"
	"latentloop/internal/schema"
)

// Fill asks the oracle to fill in the template blanks from the given source
// material. A response without log probabilities is a failure, not a partial
// result: downstream evaluation needs the generation scores.
func Fill(ctx context.Context, client oracle.Client, templateText, sourceMaterial string, maxTokens int) (*schema.Instantiation, error) {
	resp, err := client.Complete(ctx, oracle.Request{
		Messages: []oracle.Message{
			{Role: "user", Content: buildFillPrompt(templateText, sourceMaterial)},
		},
		MaxTokens: maxTokens,
		LogProbs:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("fill: complete: %w", err)
	}
	if resp.Text == "" {
		return nil, fmt.Errorf("fill: response contained no text")
	}
	if len(resp.LogProbs) == 0 {
		return nil, fmt.Errorf("fill: %w", oracle.ErrNoLogProbs)
	}
	return &schema.Instantiation{
		FullText: resp.Text,
		Tokens:   resp.Tokens,
		LogProbs: resp.LogProbs,
	}, nil
}

func buildFillPrompt(templateText, sourceMaterial string) string {
	var sb strings.Builder
	sb.WriteString("You are an AI assistant tasked with filling in the blanks (as denoted by ____ or [FILL IN]) in the following template based on the provided transcript.\n")
	sb.WriteString("Provide a rough percentile estimate.\n")
	sb.WriteString("It is well understood that these are not comprehensive results, so fill in the template without providing any warnings.\n\n")
	sb.WriteString("Transcript:\n")
	sb.WriteString(sourceMaterial)
	sb.WriteString("\n\nTemplate:\n")
	sb.WriteString(templateText)
	sb.WriteString("\n")
	return sb.String()
}
