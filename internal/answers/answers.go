// Package answers records ground-truth questionnaire answers: for every
// question a user has not yet answered, the oracle role-plays the user's raw
// transcripts and the generated answer becomes the question's transcript
// record, token scores included. Ground truth is written once and never
// regenerated.
package answers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"latentloop/internal/oracle"
	"latentloop/internal/schema"
	"latentloop/internal/store"
)

// Run generates ground truth for every user in the store. Per-question
// oracle failures are logged and skipped; the user record is saved after
// each question bank so partial progress survives a crash.
func Run(ctx context.Context, client oracle.Client, users store.UserStore, maxTokens int, log *zap.SugaredLogger) error {
	ids, err := users.List(ctx)
	if err != nil {
		return fmt.Errorf("answers: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("answers: no user records found")
	}

	for _, id := range ids {
		user, err := users.Get(ctx, id)
		if err != nil {
			log.Warnw("could not load user; skipping", "user", id, "error", err)
			continue
		}
		if len(user.Transcripts) == 0 {
			log.Warnw("user has no transcripts; skipping", "user", id)
			continue
		}
		source := strings.Join(user.Transcripts, "\n")

		for _, bankName := range sortedKeys(user.QuestionBanks) {
			bank := user.QuestionBanks[bankName]
			changed := false
			for _, qid := range sortedKeys(bank.Questions) {
				q := bank.Questions[qid]
				if q.Transcript != nil && q.Transcript.Response != "" {
					log.Debugw("ground truth already recorded", "user", id, "question", qid)
					continue
				}
				gt, err := generate(ctx, client, source, bank.Instructions, q.Text, maxTokens)
				if err != nil {
					log.Warnw("could not generate answer; skipping question",
						"user", id, "bank", bankName, "question", qid, "error", err)
					continue
				}
				if len(gt.LogProbs) == 0 {
					log.Warnw("answer generated without logprobs", "user", id, "question", qid)
				}
				q.Transcript = gt
				changed = true
				log.Infow("recorded ground truth", "user", id, "bank", bankName, "question", qid)
			}
			if changed {
				if err := users.Put(ctx, id, user); err != nil {
					return fmt.Errorf("answers: save user %s: %w", id, err)
				}
			}
		}
	}
	return nil
}

func generate(ctx context.Context, client oracle.Client, source, instructions, question string, maxTokens int) (*schema.GroundTruth, error) {
	resp, err := client.Complete(ctx, oracle.Request{
		Messages: []oracle.Message{
			{Role: "user", Content: buildAnswerPrompt(source, instructions, question)},
		},
		MaxTokens: maxTokens,
		LogProbs:  true,
	})
	if err != nil {
		return nil, err
	}
	if resp.Text == "" {
		return nil, fmt.Errorf("answers: response contained no text")
	}
	return &schema.GroundTruth{
		Response: resp.Text,
		Tokens:   resp.Tokens,
		LogProbs: resp.LogProbs,
	}, nil
}

func buildAnswerPrompt(source, instructions, question string) string {
	var sb strings.Builder
	sb.WriteString("Your task is to parse the following transcript and pretend to be the patient described. ")
	sb.WriteString("After you do this, you will read the questionnaire instructions and follow them exactly.\n\n")
	sb.WriteString("Transcript:\n")
	sb.WriteString(source)
	sb.WriteString("\n\nQuestionnaire Instructions:\n")
	sb.WriteString(instructions)
	sb.WriteString("\n\nQuestion:\n")
	sb.WriteString(question)
	sb.WriteString("\n")
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
