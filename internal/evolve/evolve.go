// Package evolve drives the template evolution loop: fill the latest
// template for every user, evaluate recorded answers against the filled
// versions, then synthesize the next template from the divergence signal.
package evolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"latentloop/internal/config"
	"latentloop/internal/evaluate"
	"latentloop/internal/fill"
	"latentloop/internal/oracle"
	"latentloop/internal/prompt"
	"latentloop/internal/schema"
	"latentloop/internal/store"
	"latentloop/internal/synth"
)

// Runner wires the stores, the oracle, and the configuration into one
// evolution loop.
type Runner struct {
	Users     store.UserStore
	Templates store.TemplateStore
	Oracle    oracle.Client
	Config    *config.Config
	Log       *zap.SugaredLogger
}

// Run executes the loop for the given number of rounds, starting from the
// latest stored template. Each successful round publishes exactly one new
// template version; a round that produces no divergence signal aborts the
// run without advancing the version.
func (r *Runner) Run(ctx context.Context, rounds int) error {
	version, err := r.Templates.Latest(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("evolve: no seed template; run init first: %w", err)
		}
		return fmt.Errorf("evolve: %w", err)
	}

	for round := 0; round < rounds; round++ {
		r.Log.Infow("starting round", "round", round+1, "rounds", rounds, "version", schema.VersionID(version))
		if err := r.FillRound(ctx, version); err != nil {
			return err
		}
		if err := r.EvaluateRound(ctx, version); err != nil {
			return err
		}
		next, err := r.SynthesizeRound(ctx, version)
		if err != nil {
			return err
		}
		version = next
	}
	return nil
}

// FillRound instantiates the given template version for every user that does
// not already have a filled copy. Users are processed concurrently; a failure
// for one user is logged and does not stop the round.
func (r *Runner) FillRound(ctx context.Context, version int) error {
	versionID := schema.VersionID(version)
	tmpl, err := r.Templates.Get(ctx, version)
	if err != nil {
		return fmt.Errorf("evolve: load %s: %w", versionID, err)
	}
	ids, err := r.Users.List(ctx)
	if err != nil {
		return fmt.Errorf("evolve: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("evolve: no user records found")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Config.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := r.fillUser(gctx, id, versionID, tmpl.FullText); err != nil {
				r.Log.Warnw("fill failed; skipping user", "user", id, "version", versionID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) fillUser(ctx context.Context, id, versionID, templateText string) error {
	user, err := r.Users.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst, ok := user.FilledTemplates[versionID]; ok && inst != nil && inst.FullText != "" {
		r.Log.Debugw("template already filled", "user", id, "version", versionID)
		return nil
	}

	source, err := prompt.Build(r.Config.PromptType, user)
	if err != nil {
		return err
	}
	inst, err := fill.Fill(ctx, r.Oracle, templateText, source, r.Config.FillMaxTokens)
	if err != nil {
		return err
	}

	scores, err := fill.ExtractTraitScores(inst.FullText, prompt.Offset(r.Config.PromptType))
	if err != nil {
		if !errors.Is(err, fill.ErrUnparseable) {
			return err
		}
		r.Log.Warnw("filled template carries no trait scores", "user", id, "version", versionID)
	} else {
		inst.TraitScores = scores
	}

	if user.FilledTemplates == nil {
		user.FilledTemplates = map[string]*schema.Instantiation{}
	}
	user.FilledTemplates[versionID] = inst
	if err := r.Users.Put(ctx, id, user); err != nil {
		return err
	}
	r.Log.Infow("filled template", "user", id, "version", versionID)
	return nil
}

// EvaluateRound echoes every answered question through each user's filled
// template and records the divergence against the ground truth. Users with
// no filled template for the version are skipped; so are questions without
// ground truth.
func (r *Runner) EvaluateRound(ctx context.Context, version int) error {
	versionID := schema.VersionID(version)
	ids, err := r.Users.List(ctx)
	if err != nil {
		return fmt.Errorf("evolve: %w", err)
	}

	for _, id := range ids {
		user, err := r.Users.Get(ctx, id)
		if err != nil {
			r.Log.Warnw("could not load user; skipping", "user", id, "error", err)
			continue
		}
		inst, ok := user.FilledTemplates[versionID]
		if !ok || inst == nil || inst.FullText == "" {
			r.Log.Warnw("no filled template; skipping user", "user", id, "version", versionID)
			continue
		}

		changed := false
		for _, bankName := range sortedKeys(user.QuestionBanks) {
			bank := user.QuestionBanks[bankName]
			for _, qid := range sortedKeys(bank.Questions) {
				q := bank.Questions[qid]
				if q.Transcript == nil || q.Transcript.Response == "" {
					r.Log.Debugw("no ground truth; skipping question", "user", id, "question", qid)
					continue
				}
				if ev, ok := q.Evaluations[versionID]; ok && ev != nil && ev.Divergence != nil {
					continue
				}

				tokens, logProbs, err := evaluate.Evaluate(ctx, r.Oracle,
					inst.FullText, bank.Instructions, q.Text, q.Transcript.Response,
					len(q.Transcript.Tokens))
				if err != nil {
					r.Log.Warnw("evaluation failed; skipping question",
						"user", id, "bank", bankName, "question", qid, "error", err)
					continue
				}
				if q.Evaluations == nil {
					q.Evaluations = map[string]*schema.Evaluation{}
				}
				q.Evaluations[versionID] = &schema.Evaluation{Tokens: tokens, LogProbs: logProbs}
				evaluate.RecordDivergence(q, versionID, r.Config.Epsilon, r.Log)
				changed = true
			}
		}
		if changed {
			if err := r.Users.Put(ctx, id, user); err != nil {
				return fmt.Errorf("evolve: save user %s: %w", id, err)
			}
			r.Log.Infow("evaluated user", "user", id, "version", versionID)
		}
	}
	return nil
}

// SynthesizeRound builds the next template version from the round's
// divergence signal and stores it as version+1. A round where no user
// contributed signal is fatal; the stored version counter stays put.
func (r *Runner) SynthesizeRound(ctx context.Context, version int) (int, error) {
	versionID := schema.VersionID(version)
	ids, err := r.Users.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("evolve: %w", err)
	}

	var signals []synth.Signal
	for _, id := range ids {
		user, err := r.Users.Get(ctx, id)
		if err != nil {
			r.Log.Warnw("could not load user; skipping", "user", id, "error", err)
			continue
		}
		sig, ok := synth.Collect(user, versionID, r.Config.TopK)
		if !ok {
			r.Log.Warnw("user contributes no signal", "user", id, "version", versionID)
			continue
		}
		signals = append(signals, sig)
	}
	if len(signals) == 0 {
		return 0, fmt.Errorf("evolve: %s: %w", versionID, synth.ErrNoSignal)
	}

	text, err := synth.Synthesize(ctx, r.Oracle, signals, r.Config.TopK, r.Config.SynthMaxTokens)
	if err != nil {
		return 0, fmt.Errorf("evolve: %w", err)
	}

	next := version + 1
	t := &schema.Template{FullText: strings.TrimSpace(text), CreatedAt: time.Now().UTC()}
	if err := r.Templates.Put(ctx, next, t); err != nil {
		return 0, fmt.Errorf("evolve: save %s: %w", schema.VersionID(next), err)
	}
	r.Log.Infow("synthesized template", "version", schema.VersionID(next), "contributors", len(signals))
	return next, nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic iteration keeps oracle call order stable across runs.
	sort.Strings(keys)
	return keys
}
