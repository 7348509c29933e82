// Package ingest bootstraps the data directory from raw input files:
// question-bank text files, per-user transcripts, and the seed template.
// Ingestion is idempotent; re-running it never overwrites answered questions
// or an existing seed template.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"latentloop/internal/schema"
	"latentloop/internal/store"
)

// ParseQuestionBank reads a question-bank text file: the first line is the
// shared instructions, every following non-empty line is one question.
func ParseQuestionBank(path string) (*schema.QuestionBank, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read question bank: %w", err)
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("ingest: question bank %s has no questions", filepath.Base(path))
	}

	bank := &schema.QuestionBank{
		Instructions: strings.TrimSpace(lines[0]),
		Questions:    map[string]*schema.Question{},
	}
	idx := 0
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		bank.Questions[fmt.Sprintf("question_%03d", idx)] = &schema.Question{Text: line}
		idx++
	}
	if idx == 0 {
		return nil, fmt.Errorf("ingest: question bank %s has no questions", filepath.Base(path))
	}
	return bank, nil
}

var (
	bankFileRe       = regexp.MustCompile(`^question_bank_.+\.txt$`)
	transcriptFileRe = regexp.MustCompile(`^transcript_(\d+)\.txt$`)
)

// Bootstrap processes everything under inputDir:
//
//	question_banks/question_bank_*.txt
//	transcripts/transcript_<id>.txt
//	seed_template.txt
//
// Transcripts create or update user records, question banks are merged into
// every user without disturbing recorded answers, and the seed template
// becomes version 0 unless one already exists.
func Bootstrap(ctx context.Context, inputDir string, users store.UserStore, templates store.TemplateStore, log *zap.SugaredLogger) error {
	banks, err := loadQuestionBanks(filepath.Join(inputDir, "question_banks"), log)
	if err != nil {
		return err
	}
	if err := loadTranscripts(ctx, filepath.Join(inputDir, "transcripts"), banks, users, log); err != nil {
		return err
	}
	return seedTemplate(ctx, filepath.Join(inputDir, "seed_template.txt"), templates, log)
}

func loadQuestionBanks(dir string, log *zap.SugaredLogger) (map[string]*schema.QuestionBank, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: question banks directory: %w", err)
	}
	banks := map[string]*schema.QuestionBank{}
	for _, e := range entries {
		if e.IsDir() || !bankFileRe.MatchString(e.Name()) {
			continue
		}
		bank, err := ParseQuestionBank(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warnw("skipping question bank", "file", e.Name(), "error", err)
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".txt")
		banks[name] = bank
		log.Infow("processed question bank", "bank", name, "questions", len(bank.Questions))
	}
	return banks, nil
}

func loadTranscripts(ctx context.Context, dir string, banks map[string]*schema.QuestionBank, users store.UserStore, log *zap.SugaredLogger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ingest: transcripts directory: %w", err)
	}

	processed := 0
	for _, e := range entries {
		m := transcriptFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			if !e.IsDir() {
				log.Warnw("skipping file with unrecognized name", "file", e.Name())
			}
			continue
		}
		id := m[1]
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("ingest: read transcript %s: %w", e.Name(), err)
		}
		content := string(b)

		user, err := users.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			user = &schema.User{ID: id}
		} else if err != nil {
			return fmt.Errorf("ingest: load user %s: %w", id, err)
		}

		if !contains(user.Transcripts, content) {
			user.Transcripts = append(user.Transcripts, content)
		}
		mergeBanks(user, banks)

		if err := users.Put(ctx, id, user); err != nil {
			return fmt.Errorf("ingest: save user %s: %w", id, err)
		}
		log.Infow("created or updated user record", "user", id)
		processed++
	}
	if processed == 0 {
		return fmt.Errorf("ingest: no transcript files found in %s", dir)
	}
	return nil
}

// mergeBanks adds every bank to the user, refreshing instructions but never
// overwriting a question that already exists; existing questions may carry
// recorded answers.
func mergeBanks(user *schema.User, banks map[string]*schema.QuestionBank) {
	if user.QuestionBanks == nil {
		user.QuestionBanks = map[string]*schema.QuestionBank{}
	}
	names := make([]string, 0, len(banks))
	for name := range banks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		bank := banks[name]
		existing, ok := user.QuestionBanks[name]
		if !ok {
			cp := &schema.QuestionBank{Instructions: bank.Instructions, Questions: map[string]*schema.Question{}}
			for qid, q := range bank.Questions {
				cp.Questions[qid] = &schema.Question{Text: q.Text}
			}
			user.QuestionBanks[name] = cp
			continue
		}
		existing.Instructions = bank.Instructions
		for qid, q := range bank.Questions {
			if _, ok := existing.Questions[qid]; !ok {
				existing.Questions[qid] = &schema.Question{Text: q.Text}
			}
		}
	}
}

func seedTemplate(ctx context.Context, path string, templates store.TemplateStore, log *zap.SugaredLogger) error {
	exists, err := templates.Exists(ctx, 0)
	if err != nil {
		return fmt.Errorf("ingest: check seed template: %w", err)
	}
	if exists {
		log.Infow("seed template already present; leaving it untouched")
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ingest: seed template: %w", err)
	}
	t := &schema.Template{FullText: strings.TrimSpace(string(b)), CreatedAt: time.Now().UTC()}
	if err := templates.Put(ctx, 0, t); err != nil {
		return fmt.Errorf("ingest: save seed template: %w", err)
	}
	log.Infow("seeded template", "version", schema.VersionID(0))
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
