package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"latentloop/internal/answers"
	"latentloop/internal/config"
	"latentloop/internal/evolve"
	"latentloop/internal/ingest"
	"latentloop/internal/logger"
	"latentloop/internal/oracle"
	"latentloop/internal/report"
	"latentloop/internal/schema"
	"latentloop/internal/store"
)

// app holds the wiring shared by every subcommand. The oracle client is
// built on demand; commands that never call the API run without credentials.
type app struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	users     store.UserStore
	templates store.TemplateStore
}

func newRootCmd() *cobra.Command {
	var (
		a          app
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "latentloop",
		Short:         "Evolve latent personality templates against questionnaire ground truth",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(verbose)
			if err != nil {
				return err
			}
			users, err := store.NewFileUserStore(filepath.Join(cfg.DataDir, "users"), log)
			if err != nil {
				return err
			}
			templates, err := store.NewFileTemplateStore(filepath.Join(cfg.DataDir, "templates"), log)
			if err != nil {
				return err
			}
			a = app{cfg: cfg, log: log, users: users, templates: templates}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(&a),
		newAnswersCmd(&a),
		newFillCmd(&a),
		newEvaluateCmd(&a),
		newSynthesizeCmd(&a),
		newReportCmd(&a),
		newEvolveCmd(&a),
	)
	return root
}

func (a *app) oracle() (oracle.Client, error) {
	return oracle.NewClient(a.cfg.BaseURL)
}

func (a *app) runner() (*evolve.Runner, error) {
	client, err := a.oracle()
	if err != nil {
		return nil, err
	}
	return &evolve.Runner{
		Users:     a.users,
		Templates: a.templates,
		Oracle:    client,
		Config:    a.cfg,
		Log:       a.log,
	}, nil
}

// resolveVersion maps the --version flag to a concrete version, defaulting
// to the latest stored template when the flag was left unset.
func (a *app) resolveVersion(ctx context.Context, flag int) (int, error) {
	if flag >= 0 {
		return flag, nil
	}
	return a.templates.Latest(ctx)
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Ingest question banks, transcripts, and the seed template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ingest.Bootstrap(cmd.Context(), a.cfg.InputDir, a.users, a.templates, a.log)
		},
	}
}

func newAnswersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "answers",
		Short: "Generate ground-truth answers for unanswered questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.oracle()
			if err != nil {
				return err
			}
			return answers.Run(cmd.Context(), client, a.users, a.cfg.AnswerMaxTokens, a.log)
		},
	}
}

func newFillCmd(a *app) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Instantiate a template version for every user",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.runner()
			if err != nil {
				return err
			}
			v, err := a.resolveVersion(cmd.Context(), version)
			if err != nil {
				return err
			}
			return r.FillRound(cmd.Context(), v)
		},
	}
	cmd.Flags().IntVar(&version, "version", -1, "template version (default: latest)")
	return cmd
}

func newEvaluateCmd(a *app) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score recorded answers against filled templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.runner()
			if err != nil {
				return err
			}
			v, err := a.resolveVersion(cmd.Context(), version)
			if err != nil {
				return err
			}
			return r.EvaluateRound(cmd.Context(), v)
		},
	}
	cmd.Flags().IntVar(&version, "version", -1, "template version (default: latest)")
	return cmd
}

func newSynthesizeCmd(a *app) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Synthesize the next template version from recorded divergences",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.runner()
			if err != nil {
				return err
			}
			v, err := a.resolveVersion(cmd.Context(), version)
			if err != nil {
				return err
			}
			next, err := r.SynthesizeRound(cmd.Context(), v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), schema.VersionID(next))
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", -1, "template version (default: latest)")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize divergences for a template version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := a.resolveVersion(ctx, version)
			if err != nil {
				return err
			}
			ids, err := a.users.List(ctx)
			if err != nil {
				return err
			}
			var users []*schema.User
			for _, id := range ids {
				user, err := a.users.Get(ctx, id)
				if err != nil {
					a.log.Warnw("could not load user; skipping", "user", id, "error", err)
					continue
				}
				users = append(users, user)
			}
			summary := report.Build(users, schema.VersionID(v))
			fmt.Fprint(cmd.OutOrStdout(), report.RenderMarkdown(summary))
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", -1, "template version (default: latest)")
	return cmd
}

func newEvolveCmd(a *app) *cobra.Command {
	var rounds int
	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Run full fill-evaluate-synthesize rounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.runner()
			if err != nil {
				return err
			}
			n := rounds
			if n <= 0 {
				n = a.cfg.Rounds
			}
			return r.Run(cmd.Context(), n)
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 0, "number of rounds (default: configured rounds)")
	return cmd
}
