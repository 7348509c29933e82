// Package synth turns a round's recorded divergences into the next template
// version: it collects each user's best- and worst-predicted questions,
// builds one aggregated prompt, and asks the oracle for a revised template.
package synth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"latentloop/internal/oracle"
	"latentloop/internal/schema"
)

// ErrNoSignal is returned when no user contributed divergence data for the
// version being synthesized. The round must abort rather than publish a
// template derived from nothing.
var ErrNoSignal = errors.New("synth: no users contributed divergence data")

// QuestionScore pairs a question's display text with its recorded
// divergence.
type QuestionScore struct {
	Question   string
	Divergence float64
}

// Signal is one user's contribution to synthesis: the filled template that
// was evaluated plus the top-k worst and bottom-k best predicted questions.
type Signal struct {
	UserID     string
	FilledText string
	Top        []QuestionScore
	Bottom     []QuestionScore
}

// Collect gathers one user's signal for the given template version. ok is
// false when the user has no filled template or no recorded divergences for
// that version; such users are omitted from synthesis entirely rather than
// contributing defaults.
func Collect(user *schema.User, versionID string, k int) (Signal, bool) {
	inst, found := user.FilledTemplates[versionID]
	if !found || inst == nil || inst.FullText == "" {
		return Signal{}, false
	}

	var scores []QuestionScore
	for _, bankName := range sortedKeys(user.QuestionBanks) {
		bank := user.QuestionBanks[bankName]
		for _, qid := range sortedKeys(bank.Questions) {
			q := bank.Questions[qid]
			ev, found := q.Evaluations[versionID]
			if !found || ev == nil || ev.Divergence == nil {
				continue
			}
			scores = append(scores, QuestionScore{Question: q.Text, Divergence: *ev.Divergence})
		}
	}
	if len(scores) == 0 {
		return Signal{}, false
	}

	top, bottom := SelectTopBottom(scores, k)
	return Signal{
		UserID:     user.ID,
		FilledText: inst.FullText,
		Top:        top,
		Bottom:     bottom,
	}, true
}

// SelectTopBottom sorts scores by divergence descending and returns the
// first k (worst predicted) and last k (best predicted). The two slices are
// independent windows of the same sorted sequence: with fewer than 2k
// entries they overlap, and that overlap is intentionally preserved in the
// synthesis prompt.
func SelectTopBottom(scores []QuestionScore, k int) (top, bottom []QuestionScore) {
	sorted := make([]QuestionScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Divergence > sorted[j].Divergence
	})

	n := k
	if n > len(sorted) {
		n = len(sorted)
	}
	top = append([]QuestionScore{}, sorted[:n]...)
	bottom = append([]QuestionScore{}, sorted[len(sorted)-n:]...)
	return top, bottom
}

// Synthesize asks the oracle for the next template version from the
// aggregated per-user signal. The raw response text is the new template.
func Synthesize(ctx context.Context, client oracle.Client, signals []Signal, k, maxTokens int) (string, error) {
	if len(signals) == 0 {
		return "", ErrNoSignal
	}
	resp, err := client.Complete(ctx, oracle.Request{
		Messages: []oracle.Message{
			{Role: "user", Content: BuildPrompt(signals, k)},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("synth: complete: %w", err)
	}
	if resp.Text == "" {
		return "", fmt.Errorf("synth: response contained no text")
	}
	return resp.Text, nil
}

// BuildPrompt assembles the aggregated synthesis prompt: fixed guidelines,
// the format-constrained template skeleton, then every user's filled
// template with their question-divergence pairs.
func BuildPrompt(signals []Signal, k int) string {
	var sb strings.Builder

	sb.WriteString("You are an AI assistant specialized in template generation aimed at minimizing KL divergence between user responses and latent templates when filled out.\n\n")
	sb.WriteString("Your task is to infer and generate a new blank latent template that better captures the attributes necessary to explain user answers effectively. The goal is to reduce the KL divergence, indicating a better fit between the template and the user responses.\n\n")
	sb.WriteString("You have been provided with data from multiple users. Analyze the provided information to generate a revised blank latent template that addresses the shortcomings identified by high KL divergence questions and reinforces strengths indicated by low KL divergence questions.\n\n")

	sb.WriteString("**Guidelines:**\n")
	fmt.Fprintf(&sb, "1. For each user:\n")
	fmt.Fprintf(&sb, "   a. Analyze the top %d poorly predicted questions to identify missing or underrepresented attributes in the current template.\n", k)
	fmt.Fprintf(&sb, "   b. Review the bottom %d well-predicted questions to reinforce effective attributes.\n", k)
	sb.WriteString("   c. Synthesize the insights to draft a revised blank latent template.\n")
	sb.WriteString("   d. Ensure the template is concise, comprehensive, and structured in a way that facilitates accurate filling.\n\n")

	sb.WriteString("**Desired Output:**\n")
	sb.WriteString("Provide a single template that may be filled out by future users that isolates latent variables most relevant to the data being analyzed.\n---\n\n")
	sb.WriteString("**New Blank Latent Template:**\n")
	sb.WriteString("Your name is ____ and\n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&sb, "%d. You are ___ percentile in [LATENT]. This is exemplified by: [FILL IN]\n", i)
	}
	sb.WriteString("...\n---\n\n")
	sb.WriteString("You may only modify the [LATENT] token. You may not modify the other text. Do not justify your response.\n")
	sb.WriteString("**Example Response:**\n\n---\n")
	sb.WriteString("Your name is ____ and\n")
	example := []string{"openness", "extraversion", "conscientiousness", "agreeableness", "neuroticism"}
	for i, trait := range example {
		fmt.Fprintf(&sb, "%d. You are ___ percentile in %s. This is exemplified by: [FILL IN]\n", i+1, trait)
	}
	sb.WriteString("...\n---\n")

	for _, sig := range signals {
		fmt.Fprintf(&sb, "\n**Filled Template for %s:**\n%s\n\n", sig.UserID, sig.FilledText)
		sb.WriteString("**Poorly Predicted Questions and KL Divergences:**\n")
		for i, qs := range sig.Top {
			fmt.Fprintf(&sb, "%d. %q - KL Divergence: %g\n", i+1, qs.Question, qs.Divergence)
		}
		sb.WriteString("\n**Best Predicted Questions and KL Divergences:**\n")
		for i, qs := range sig.Bottom {
			fmt.Fprintf(&sb, "%d. %q - KL Divergence: %g\n", i+1, qs.Question, qs.Divergence)
		}
	}

	return sb.String()
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
