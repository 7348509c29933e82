package report

import (
	"strings"
	"testing"

	"latentloop/internal/schema"
)

func ptr(f float64) *float64 { return &f }

func testUsers() []*schema.User {
	return []*schema.User{
		{
			ID: "0002",
			QuestionBanks: map[string]*schema.QuestionBank{
				"question_bank_001": {Questions: map[string]*schema.Question{
					"question_000": {Evaluations: map[string]*schema.Evaluation{
						"template_001": {Divergence: ptr(0.8)},
					}},
				}},
			},
		},
		{
			ID: "0001",
			QuestionBanks: map[string]*schema.QuestionBank{
				"question_bank_001": {Questions: map[string]*schema.Question{
					"question_000": {Evaluations: map[string]*schema.Evaluation{
						"template_001": {Divergence: ptr(0.2)},
					}},
					"question_001": {Evaluations: map[string]*schema.Evaluation{
						"template_001": {Divergence: ptr(0.4)},
					}},
					"question_001b": {Evaluations: map[string]*schema.Evaluation{
						// A hand-edited record can hold a JSON null here.
						"template_001": nil,
					}},
					"question_002": {}, // never evaluated
				}},
			},
		},
	}
}

func TestBuild(t *testing.T) {
	s := Build(testUsers(), "template_001")

	if s.EvaluatedCount != 3 {
		t.Errorf("evaluated count: got %d, want 3", s.EvaluatedCount)
	}
	want := (0.2 + 0.4 + 0.8) / 3
	if diff := s.MeanDivergence - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("overall mean: got %g, want %g", s.MeanDivergence, want)
	}

	if len(s.Users) != 2 || s.Users[0].UserID != "0001" || s.Users[1].UserID != "0002" {
		t.Fatalf("users not sorted by id: %+v", s.Users)
	}
	u := s.Users[0]
	if u.QuestionCount != 4 || u.EvaluatedCount != 2 {
		t.Errorf("user 0001 counts: got %d/%d, want 2/4", u.EvaluatedCount, u.QuestionCount)
	}
	if diff := u.MeanDivergence - 0.3; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("user 0001 mean: got %g, want 0.3", u.MeanDivergence)
	}
}

func TestBuild_NoEvaluationsForVersion(t *testing.T) {
	s := Build(testUsers(), "template_009")
	if s.EvaluatedCount != 0 || s.MeanDivergence != 0 {
		t.Errorf("expected empty summary, got %+v", s)
	}
	if len(s.Users) != 2 {
		t.Errorf("users must still be listed, got %d", len(s.Users))
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown(Build(testUsers(), "template_001"))

	for _, want := range []string{
		"## Divergence Report: template_001",
		"**Evaluated questions:** 3",
		"| 0001 | 2 | 4 | 0.3000 |",
		"| 0002 | 1 | 1 | 0.8000 |",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderMarkdown_Nil(t *testing.T) {
	if got := RenderMarkdown(nil); got != "" {
		t.Errorf("nil summary: got %q, want empty", got)
	}
}
