// Package prompt builds the source material handed to the instantiation
// stage. Each builder turns a user record into the text the oracle reads
// before filling in a template. Builders are looked up by name so the
// pipeline can switch strategies from configuration.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"latentloop/internal/schema"
)

// Builder produces source material for one user.
type Builder func(user *schema.User) (string, error)

var builders = map[string]Builder{
	"transcript":   fromTranscripts,
	"rubric":       fromRubric,
	"psychologist": fromSurvey,
}

// Build runs the named builder. Unknown names are an error, never a silent
// fallback.
func Build(kind string, user *schema.User) (string, error) {
	b, ok := builders[kind]
	if !ok {
		return "", fmt.Errorf("prompt: unknown prompt type %q (available: transcript, rubric, psychologist)", kind)
	}
	return b(user)
}

// Offset returns the trait-score offset for the named builder. The rubric
// builder asks the oracle to sum twelve 1-5 responses per trait, so 12 is
// subtracted downstream to map sums onto the conventional 0-48 scale.
func Offset(kind string) int {
	if kind == "rubric" {
		return 12
	}
	return 0
}

// fromTranscripts joins the user's raw transcripts. This is the default
// source material for role-play priming.
func fromTranscripts(user *schema.User) (string, error) {
	if len(user.Transcripts) == 0 {
		return "", fmt.Errorf("prompt: user %s has no transcripts", user.ID)
	}
	return strings.Join(user.Transcripts, "\n"), nil
}

// traitOrder fixes the presentation order of the five traits.
var traitOrder = []string{"neuroticism", "extraversion", "openness", "agreeableness", "conscientiousness"}

// traitRubric maps each trait to the questionnaire items that score it.
var traitRubric = map[string][]string{
	"neuroticism":       {"NEO_1", "NEO_11", "NEO_16", "NEO_31", "NEO_46", "NEO_6", "NEO_21", "NEO_26", "NEO_36", "NEO_41", "NEO_51", "NEO_56"},
	"extraversion":      {"NEO_7", "NEO_12", "NEO_37", "NEO_42", "NEO_2", "NEO_17", "NEO_27", "NEO_57", "NEO_22", "NEO_32", "NEO_47", "NEO_52"},
	"openness":          {"NEO_13", "NEO_23", "NEO_43", "NEO_48", "NEO_53", "NEO_58", "NEO_3", "NEO_8", "NEO_18", "NEO_38", "NEO_28", "NEO_33"},
	"agreeableness":     {"NEO_9", "NEO_14", "NEO_19", "NEO_24", "NEO_29", "NEO_44", "NEO_54", "NEO_59", "NEO_4", "NEO_34", "NEO_39", "NEO_49"},
	"conscientiousness": {"NEO_5", "NEO_10", "NEO_15", "NEO_30", "NEO_55", "NEO_25", "NEO_35", "NEO_60", "NEO_20", "NEO_40", "NEO_45", "NEO_50"},
}

// surveyWave selects which collection wave feeds the survey builders.
const surveyWave = 1

// fromRubric groups the user's survey responses by trait using the item
// rubric and asks the oracle to sum them. Reverse-scored items are flipped
// (6 - r) before grouping.
func fromRubric(user *schema.User) (string, error) {
	if len(user.Survey) == 0 {
		return "", fmt.Errorf("prompt: user %s has no survey data", user.ID)
	}

	var sb strings.Builder
	sb.WriteString("You are an assistant evaluating trait scores based on user responses. Each response is rated from 1 to 5.\n")
	sb.WriteString("Fill in the blanks (as denoted by ____ or [FILL IN]) in the following template based on the provided information.\n\n")
	sb.WriteString("Here are the responses grouped by personality traits:\n")

	for _, trait := range traitOrder {
		var responses []string
		for _, item := range traitRubric[trait] {
			sq, ok := user.Survey[item]
			if !ok {
				continue
			}
			for _, a := range sq.Answers {
				if a.Wave != surveyWave {
					continue
				}
				r := a.Response
				if sq.ReverseScored {
					r = 6 - r
				}
				responses = append(responses, fmt.Sprintf("%d", r))
			}
		}
		formatted := "0"
		if len(responses) > 0 {
			formatted = strings.Join(responses, ", ")
		}
		fmt.Fprintf(&sb, "\n**%s**\n%s\n", capitalize(trait), formatted)
	}

	sb.WriteString("\nPlease sum the responses for each trait to arrive at the score for that trait.")
	return sb.String(), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// fromSurvey lists every survey answer verbatim and asks for 1-10 trait
// ratings without a rubric.
func fromSurvey(user *schema.User) (string, error) {
	if len(user.Survey) == 0 {
		return "", fmt.Errorf("prompt: user %s has no survey data", user.ID)
	}

	ids := make([]string, 0, len(user.Survey))
	for id := range user.Survey {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var responses []string
	for _, id := range ids {
		sq := user.Survey[id]
		for _, a := range sq.Answers {
			if a.Wave == surveyWave {
				responses = append(responses, fmt.Sprintf("**%s** Response: %d", sq.Question, a.Response))
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("You are an AI psychologist assessing a participant based on their answers to personality-related questions.\n")
	sb.WriteString("Answers are scored from 1 to 5, depending on how much the participant agrees with the statement (strongly disagree, disagree, neutral, agree, strongly agree).\n")
	sb.WriteString("The participant's responses are provided below.\n\n")
	sb.WriteString("Fill in the ____ blanks with an evaluation of their personality trait on a scale from 1 to 10 for each of the following traits:\n")
	sb.WriteString("- **openness**\n- **conscientiousness**\n- **extraversion**\n- **agreeableness**\n- **neuroticism**\n\n")
	sb.WriteString("Fill in the [FILL IN] blanks with information that helped you make your decision for each of the traits.\n\n")
	sb.WriteString("**Participant's Responses:**\n\n")
	sb.WriteString(strings.Join(responses, "\n"))
	sb.WriteString("\n\nBased on these responses, rate the participant from **1 to 10** for each of the five personality traits.\n")
	return sb.String(), nil
}
