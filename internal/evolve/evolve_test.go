package evolve

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"latentloop/internal/config"
	"latentloop/internal/oracle"
	"latentloop/internal/schema"
	"latentloop/internal/store"
	"latentloop/internal/synth"
)

// loopClient scripts the three request shapes of a round. Echoed requests
// are evaluations, fill requests carry the blank-filling instructions, and
// everything else is synthesis.
type loopClient struct {
	mu          sync.Mutex
	fillCalls   int
	evalCalls   int
	synthCalls  int
	synthPrompt string
	failFillFor string
}

func (c *loopClient) Complete(_ context.Context, req oracle.Request) (*oracle.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prompt := req.Messages[0].Content

	switch {
	case req.Echo:
		c.evalCalls++
		// The worry question echoes the ground-truth scores exactly; the
		// parties question drifts.
		if strings.Contains(prompt, "worry") {
			return &oracle.Response{
				Tokens: []string{"<|eot_id|>"}, LogProbs: []float64{-0.1},
				PromptTokens: []string{"ctx", "I"}, PromptLogProbs: []float64{-5.0, -0.2},
			}, nil
		}
		return &oracle.Response{
			Tokens: []string{"<|eot_id|>"}, LogProbs: []float64{-0.5},
			PromptTokens: []string{"ctx", "I"}, PromptLogProbs: []float64{-5.0, -3.0},
		}, nil

	case strings.Contains(prompt, "filling in the blanks"):
		c.fillCalls++
		if c.failFillFor != "" && strings.Contains(prompt, c.failFillFor) {
			return nil, errors.New("oracle down")
		}
		name := "alpha"
		if strings.Contains(prompt, "beta") {
			name = "beta"
		}
		return &oracle.Response{
			Text:     "Profile for " + name,
			Tokens:   []string{"Profile"},
			LogProbs: []float64{-0.3},
		}, nil

	default:
		c.synthCalls++
		c.synthPrompt = prompt
		return &oracle.Response{Text: "Your name is ____ and revised\n"}, nil
	}
}

func groundTruth() *schema.GroundTruth {
	return &schema.GroundTruth{
		Response: "I agree",
		Tokens:   []string{"I", " agree"},
		LogProbs: []float64{-0.2, -0.1},
	}
}

func seedWorld(t *testing.T) (store.UserStore, store.TemplateStore) {
	t.Helper()
	ctx := context.Background()
	users := store.NewMemUserStore()
	templates := store.NewMemTemplateStore()

	require.NoError(t, users.Put(ctx, "0001", &schema.User{
		Transcripts: []string{"alpha transcript"},
		QuestionBanks: map[string]*schema.QuestionBank{
			"question_bank_001": {
				Instructions: "Answer honestly.",
				Questions: map[string]*schema.Question{
					"question_000": {Text: "Do you worry often?", Transcript: groundTruth()},
				},
			},
		},
	}))
	require.NoError(t, users.Put(ctx, "0002", &schema.User{
		Transcripts: []string{"beta transcript"},
		QuestionBanks: map[string]*schema.QuestionBank{
			"question_bank_001": {
				Instructions: "Answer honestly.",
				Questions: map[string]*schema.Question{
					"question_000": {Text: "Do you enjoy parties?", Transcript: groundTruth()},
				},
			},
		},
	}))
	require.NoError(t, templates.Put(ctx, 0, &schema.Template{FullText: "The patient is [LATENT]."}))
	return users, templates
}

func newRunner(users store.UserStore, templates store.TemplateStore, client oracle.Client) *Runner {
	return &Runner{
		Users:     users,
		Templates: templates,
		Oracle:    client,
		Config: &config.Config{
			PromptType:      "transcript",
			Epsilon:         1e-10,
			TopK:            5,
			Concurrency:     2,
			FillMaxTokens:   1500,
			AnswerMaxTokens: 150,
			SynthMaxTokens:  5000,
		},
		Log: zap.NewNop().Sugar(),
	}
}

func TestRun_OneRound(t *testing.T) {
	ctx := context.Background()
	users, templates := seedWorld(t)
	client := &loopClient{}
	r := newRunner(users, templates, client)

	require.NoError(t, r.Run(ctx, 1))

	assert.Equal(t, 2, client.fillCalls)
	assert.Equal(t, 2, client.evalCalls)
	assert.Equal(t, 1, client.synthCalls)

	// Exactly one new version.
	latest, err := templates.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, latest)
	next, err := templates.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Your name is ____ and revised", next.FullText)

	// The echoing user diverges by nothing, the drifting one by something.
	a, err := users.Get(ctx, "0001")
	require.NoError(t, err)
	evA := a.QuestionBanks["question_bank_001"].Questions["question_000"].Evaluations["template_000"]
	require.NotNil(t, evA)
	require.NotNil(t, evA.Divergence)
	assert.InDelta(t, 0, *evA.Divergence, 1e-9)
	assert.Equal(t, []float64{-0.2, -0.1}, evA.LogProbs)

	b, err := users.Get(ctx, "0002")
	require.NoError(t, err)
	evB := b.QuestionBanks["question_bank_001"].Questions["question_000"].Evaluations["template_000"]
	require.NotNil(t, evB)
	require.NotNil(t, evB.Divergence)
	assert.Greater(t, *evB.Divergence, 0.0)

	// Both users fed the synthesis prompt.
	assert.Contains(t, client.synthPrompt, "Profile for alpha")
	assert.Contains(t, client.synthPrompt, "Profile for beta")
	assert.Contains(t, client.synthPrompt, "Do you enjoy parties?")
}

func TestFillRound_OneFailureDoesNotHaltRound(t *testing.T) {
	ctx := context.Background()
	users, templates := seedWorld(t)
	client := &loopClient{failFillFor: "beta"}
	r := newRunner(users, templates, client)

	require.NoError(t, r.FillRound(ctx, 0))

	a, err := users.Get(ctx, "0001")
	require.NoError(t, err)
	assert.NotNil(t, a.FilledTemplates["template_000"])

	b, err := users.Get(ctx, "0002")
	require.NoError(t, err)
	assert.Nil(t, b.FilledTemplates["template_000"])
}

func TestFillRound_SkipsExistingInstantiation(t *testing.T) {
	ctx := context.Background()
	users, templates := seedWorld(t)
	a, err := users.Get(ctx, "0001")
	require.NoError(t, err)
	a.FilledTemplates = map[string]*schema.Instantiation{
		"template_000": {FullText: "already filled"},
	}
	require.NoError(t, users.Put(ctx, "0001", a))

	client := &loopClient{}
	r := newRunner(users, templates, client)
	require.NoError(t, r.FillRound(ctx, 0))

	assert.Equal(t, 1, client.fillCalls, "only the unfilled user should reach the oracle")
	a, err = users.Get(ctx, "0001")
	require.NoError(t, err)
	assert.Equal(t, "already filled", a.FilledTemplates["template_000"].FullText)
}

func TestSynthesizeRound_NoSignalIsFatal(t *testing.T) {
	ctx := context.Background()
	users, templates := seedWorld(t)
	client := &loopClient{}
	r := newRunner(users, templates, client)

	// No fill, no evaluation: nobody contributes.
	_, err := r.SynthesizeRound(ctx, 0)
	assert.ErrorIs(t, err, synth.ErrNoSignal)

	latest, err := templates.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, latest, "a failed round must not advance the version")
}

func TestRun_NoSeedTemplate(t *testing.T) {
	users, _ := seedWorld(t)
	r := newRunner(users, store.NewMemTemplateStore(), &loopClient{})
	assert.ErrorIs(t, r.Run(context.Background(), 1), store.ErrNotFound)
}
