// Package report summarizes recorded divergences for one template version.
package report

import (
	"fmt"
	"sort"
	"strings"

	"latentloop/internal/schema"
)

// UserSummary aggregates the divergences recorded for a single user.
type UserSummary struct {
	UserID         string  `json:"user_id"`
	QuestionCount  int     `json:"question_count"`
	EvaluatedCount int     `json:"evaluated_count"`
	MeanDivergence float64 `json:"mean_divergence"`
}

// Summary aggregates divergences for every user under one template version.
type Summary struct {
	VersionID      string        `json:"version_id"`
	Users          []UserSummary `json:"users"`
	EvaluatedCount int           `json:"evaluated_count"`
	MeanDivergence float64       `json:"mean_divergence"`
}

// Build computes per-user and overall mean divergence for the given version.
// Users with no evaluations for the version still appear, with a zero mean.
func Build(users []*schema.User, versionID string) *Summary {
	s := &Summary{VersionID: versionID}
	var total float64

	for _, user := range users {
		us := UserSummary{UserID: user.ID}
		var sum float64
		for _, bankName := range sortedKeys(user.QuestionBanks) {
			bank := user.QuestionBanks[bankName]
			for _, qid := range sortedKeys(bank.Questions) {
				q := bank.Questions[qid]
				us.QuestionCount++
				ev, ok := q.Evaluations[versionID]
				if !ok || ev == nil || ev.Divergence == nil {
					continue
				}
				us.EvaluatedCount++
				sum += *ev.Divergence
			}
		}
		if us.EvaluatedCount > 0 {
			us.MeanDivergence = sum / float64(us.EvaluatedCount)
		}
		s.Users = append(s.Users, us)
		s.EvaluatedCount += us.EvaluatedCount
		total += sum
	}

	sort.Slice(s.Users, func(i, j int) bool { return s.Users[i].UserID < s.Users[j].UserID })
	if s.EvaluatedCount > 0 {
		s.MeanDivergence = total / float64(s.EvaluatedCount)
	}
	return s
}

// RenderMarkdown produces a Markdown summary suitable for terminal output.
func RenderMarkdown(s *Summary) string {
	if s == nil {
		return ""
	}
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Divergence Report: %s\n\n", s.VersionID)
	fmt.Fprintf(&sb, "**Evaluated questions:** %d  \n", s.EvaluatedCount)
	fmt.Fprintf(&sb, "**Mean KL divergence:** %.4f\n\n", s.MeanDivergence)

	if len(s.Users) > 0 {
		sb.WriteString("| User | Evaluated | Questions | Mean KL |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, u := range s.Users {
			fmt.Fprintf(&sb, "| %s | %d | %d | %.4f |\n",
				u.UserID, u.EvaluatedCount, u.QuestionCount, u.MeanDivergence)
		}
		sb.WriteString("\n")
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
