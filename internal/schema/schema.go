// Package schema defines the canonical record types shared by every pipeline
// stage: per-user records, question banks, ground-truth transcripts, and the
// per-version results that accumulate on them round after round.
package schema

import (
	"fmt"
	"time"
)

// VersionID formats a template version number as its registry key,
// e.g. VersionID(3) == "template_003".
func VersionID(version int) string {
	return fmt.Sprintf("template_%03d", version)
}

// User is one data subject's persistent record. It owns every nested
// question bank, evaluation, and instantiation exclusively; nothing under a
// User is shared with another User.
type User struct {
	ID              string                     `json:"-"`
	Transcripts     []string                   `json:"transcripts"`
	Survey          map[string]*SurveyQuestion `json:"survey,omitempty"`
	QuestionBanks   map[string]*QuestionBank   `json:"question_banks,omitempty"`
	FilledTemplates map[string]*Instantiation  `json:"filled_templates,omitempty"`
}

// SurveyQuestion is one raw questionnaire item with the user's numeric
// answers, used by the rubric and psychologist source-material builders.
type SurveyQuestion struct {
	Question      string         `json:"question"`
	ReverseScored bool           `json:"reverse_scored,omitempty"`
	Answers       []SurveyAnswer `json:"answers"`
}

// SurveyAnswer is a single Likert response within one collection wave.
type SurveyAnswer struct {
	Wave     int `json:"wave"`
	Response int `json:"response"`
}

// QuestionBank groups questions under shared instructions. Static once
// ingested.
type QuestionBank struct {
	Instructions string               `json:"instructions"`
	Questions    map[string]*Question `json:"questions"`
}

// Question holds one questionnaire item, its ground truth, and the
// per-version evaluations recorded against it. Ground truth is written once;
// Evaluations grows by one entry per round.
type Question struct {
	Text        string                 `json:"question"`
	Transcript  *GroundTruth           `json:"transcript,omitempty"`
	Evaluations map[string]*Evaluation `json:"evaluations,omitempty"`
}

// GroundTruth is the user's own answer to a question together with its
// token-level scores under the oracle.
type GroundTruth struct {
	Response string    `json:"response"`
	Tokens   []string  `json:"tokens"`
	LogProbs []float64 `json:"token_logprobs"`
}

// Evaluation is the oracle's re-derived token scores for a ground-truth
// answer conditioned on a filled template, plus the divergence against the
// ground truth's own scores. Divergence is nil until recorded, and stays nil
// when the token counts disagree.
type Evaluation struct {
	Tokens     []string  `json:"tokens"`
	LogProbs   []float64 `json:"token_logprobs"`
	Divergence *float64  `json:"divergence,omitempty"`
}

// Instantiation is a template filled in for one user: the full filled text
// and the generation's token scores. Keyed on the User by template version;
// written once and never overwritten.
type Instantiation struct {
	FullText    string         `json:"full_text"`
	Tokens      []string       `json:"tokens"`
	LogProbs    []float64      `json:"token_logprobs"`
	TraitScores map[string]int `json:"trait_scores,omitempty"`
}

// Template is one version of the blank latent template. Immutable once
// created; a new round always creates a new version.
type Template struct {
	FullText  string    `json:"full_text"`
	CreatedAt time.Time `json:"created_at"`
}
