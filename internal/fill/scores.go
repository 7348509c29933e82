package fill

import (
	"errors"
	"regexp"
	"strconv"
)

// ErrUnparseable is returned when a filled template contains no extractable
// trait score at all. Callers must treat this as an absent result, never as
// a zero score.
var ErrUnparseable = errors.New("fill: no trait scores found")

// traits are the score lines extracted from filled templates.
var traits = []string{"openness", "conscientiousness", "extraversion", "agreeableness", "neuroticism"}

// scoreRes matches the score grammar, one pattern per trait:
//
//	Your score in <trait> is <integer>
var scoreRes = func() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp, len(traits))
	for _, trait := range traits {
		res[trait] = regexp.MustCompile(`Your score in ` + trait + `\s+is\s+(\d+)`)
	}
	return res
}()

// ExtractTraitScores scans a filled template for per-trait score lines and
// returns the scores shifted down by offset. Traits with no matching line
// are simply absent from the result; a result with no traits at all is
// ErrUnparseable.
func ExtractTraitScores(text string, offset int) (map[string]int, error) {
	scores := make(map[string]int)
	for _, trait := range traits {
		m := scoreRes[trait].FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		scores[trait] = n - offset
	}
	if len(scores) == 0 {
		return nil, ErrUnparseable
	}
	return scores, nil
}
