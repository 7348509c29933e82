// Package evaluate scores how likely the oracle is to reproduce a user's
// recorded answer when primed with a filled template, and records the
// divergence between those scores and the transcript's own.
package evaluate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"latentloop/internal/divergence"
	"latentloop/internal/oracle"
	"latentloop/internal/schema"
)

// Evaluate primes the oracle with a filled template and a question, forces
// it to echo the ground-truth answer with max_tokens=0, and returns the
// token scores attributable to the answer itself.
//
// The echoed response carries scores for the whole prompt plus the appended
// end token; only the trailing answerTokenCount entries of that combined
// stream belong to the answer text, so everything before them is discarded.
// When the combined stream is shorter than answerTokenCount the whole stream
// is returned.
func Evaluate(ctx context.Context, client oracle.Client, filledTemplate, instructions, question, answer string, answerTokenCount int) ([]string, []float64, error) {
	resp, err := client.Complete(ctx, oracle.Request{
		Messages: []oracle.Message{
			{Role: "user", Content: buildEvalPrompt(filledTemplate, instructions, question)},
			{Role: "assistant", Content: answer},
		},
		MaxTokens: 0,
		LogProbs:  true,
		Echo:      true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate: complete: %w", err)
	}
	if len(resp.LogProbs) == 0 {
		// The choice side carries the end token that closes the forced
		// continuation.
		return nil, nil, fmt.Errorf("evaluate: end token: %w", oracle.ErrNoLogProbs)
	}
	if len(resp.PromptLogProbs) == 0 {
		return nil, nil, fmt.Errorf("evaluate: forced continuation: %w", oracle.ErrNoLogProbs)
	}
	// The token and logprob arrays arrive as independent lists; a server that
	// truncates one but not the other would otherwise corrupt the trim below.
	if len(resp.Tokens) != len(resp.LogProbs) {
		return nil, nil, fmt.Errorf("evaluate: end token stream: %d tokens vs %d logprobs", len(resp.Tokens), len(resp.LogProbs))
	}
	if len(resp.PromptTokens) != len(resp.PromptLogProbs) {
		return nil, nil, fmt.Errorf("evaluate: echoed prompt: %d tokens vs %d logprobs", len(resp.PromptTokens), len(resp.PromptLogProbs))
	}

	tokens := append(append([]string{}, resp.PromptTokens...), resp.Tokens...)
	logProbs := append(append([]float64{}, resp.PromptLogProbs...), resp.LogProbs...)

	start := len(logProbs) - answerTokenCount
	if start < 0 {
		start = 0
	}
	return tokens[start:], logProbs[start:], nil
}

func buildEvalPrompt(filledTemplate, instructions, question string) string {
	var sb strings.Builder
	sb.WriteString("Your task is to parse the following filled template and pretend to be the patient described.\n")
	sb.WriteString("After assuming the role of the patient, you will take the questionnaire that is provided ")
	sb.WriteString("and respond to each question as accurately as possible. Do not add additional details or speculation beyond the instructions in the questionnaire.\n\n")
	sb.WriteString("Filled Template:\n")
	sb.WriteString(filledTemplate)
	sb.WriteString("\n\nQuestionnaire Instructions:\n")
	sb.WriteString(instructions)
	sb.WriteString("\n\nQuestion:\n")
	sb.WriteString(question)
	sb.WriteString("\n")
	return sb.String()
}

// RecordDivergence computes and stores the divergence for one question under
// one template version. The evaluation must already be attached to the
// question. When the evaluation's token count differs from the ground
// truth's, the divergence field is left unset and a warning is logged; the
// mismatch is a sanity check that should near-never fire, not an error path.
func RecordDivergence(q *schema.Question, versionID string, epsilon float64, log *zap.SugaredLogger) {
	ev, ok := q.Evaluations[versionID]
	if !ok || ev == nil {
		return
	}
	if q.Transcript == nil || len(q.Transcript.LogProbs) == 0 {
		log.Warnw("no ground-truth logprobs; skipping divergence", "version", versionID)
		return
	}
	if len(q.Transcript.LogProbs) != len(ev.LogProbs) {
		log.Warnw("logprobs length mismatch; skipping divergence",
			"version", versionID,
			"transcript_tokens", len(q.Transcript.LogProbs),
			"evaluated_tokens", len(ev.LogProbs))
		return
	}

	// Ground truth is the reference distribution.
	d, err := divergence.KL(q.Transcript.LogProbs, ev.LogProbs, epsilon)
	if err != nil {
		log.Warnw("divergence could not be computed", "version", versionID, "error", err)
		return
	}
	ev.Divergence = &d
}
