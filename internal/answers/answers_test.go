package answers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"latentloop/internal/oracle"
	"latentloop/internal/schema"
	"latentloop/internal/store"
)

type scriptedClient struct {
	calls int
	fail  bool
}

func (c *scriptedClient) Complete(_ context.Context, req oracle.Request) (*oracle.Response, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("oracle down")
	}
	if !strings.Contains(req.Messages[0].Content, "Transcript:") {
		return nil, errors.New("missing transcript section")
	}
	return &oracle.Response{
		Text:     "Strongly agree.",
		Tokens:   []string{"Strongly", " agree", "."},
		LogProbs: []float64{-0.3, -0.1, -0.05},
	}, nil
}

func seedUser(t *testing.T, users store.UserStore, answered bool) {
	t.Helper()
	q := &schema.Question{Text: "Do you worry often?"}
	if answered {
		q.Transcript = &schema.GroundTruth{Response: "already here", LogProbs: []float64{-0.5}}
	}
	user := &schema.User{
		Transcripts: []string{"I worry about everything."},
		QuestionBanks: map[string]*schema.QuestionBank{
			"question_bank_001": {
				Instructions: "Answer with your level of agreement.",
				Questions:    map[string]*schema.Question{"question_000": q},
			},
		},
	}
	if err := users.Put(context.Background(), "0001", user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestRun_GeneratesMissingGroundTruth(t *testing.T) {
	users := store.NewMemUserStore()
	seedUser(t, users, false)
	client := &scriptedClient{}

	if err := Run(context.Background(), client, users, 150, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("oracle calls: got %d, want 1", client.calls)
	}

	user, err := users.Get(context.Background(), "0001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	gt := user.QuestionBanks["question_bank_001"].Questions["question_000"].Transcript
	if gt == nil || gt.Response != "Strongly agree." {
		t.Fatalf("ground truth not recorded: %+v", gt)
	}
	if len(gt.LogProbs) != 3 {
		t.Errorf("logprobs: got %d, want 3", len(gt.LogProbs))
	}
}

func TestRun_SkipsAnsweredQuestions(t *testing.T) {
	users := store.NewMemUserStore()
	seedUser(t, users, true)
	client := &scriptedClient{}

	if err := Run(context.Background(), client, users, 150, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.calls != 0 {
		t.Errorf("oracle calls: got %d, want 0", client.calls)
	}

	user, _ := users.Get(context.Background(), "0001")
	gt := user.QuestionBanks["question_bank_001"].Questions["question_000"].Transcript
	if gt.Response != "already here" {
		t.Error("existing ground truth must never be overwritten")
	}
}

func TestRun_OracleFailureSkipsQuestion(t *testing.T) {
	users := store.NewMemUserStore()
	seedUser(t, users, false)
	client := &scriptedClient{fail: true}

	if err := Run(context.Background(), client, users, 150, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("Run must not fail on per-question oracle errors: %v", err)
	}
	user, _ := users.Get(context.Background(), "0001")
	if user.QuestionBanks["question_bank_001"].Questions["question_000"].Transcript != nil {
		t.Error("failed generation must leave the question unanswered")
	}
}

func TestRun_NoUsersIsFatal(t *testing.T) {
	if err := Run(context.Background(), &scriptedClient{}, store.NewMemUserStore(), 150, zap.NewNop().Sugar()); err == nil {
		t.Error("expected error for empty user store")
	}
}
