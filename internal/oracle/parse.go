package oracle

import "github.com/tidwall/gjson"

// parseResponse pulls token-level scores out of the raw completion body.
// OpenAI-compatible servers disagree on the logprobs shape: the current API
// nests them as choices[0].logprobs.content[{token,logprob}], while Together
// keeps the legacy parallel arrays (tokens / token_logprobs) and, on echo
// requests, additionally reports prompt-side scores under
// prompt[0].logprobs. Both shapes are accepted.
func parseResponse(raw string) *Response {
	resp := &Response{}
	resp.Tokens, resp.LogProbs = parseLogProbs(gjson.Get(raw, "choices.0.logprobs"))
	resp.PromptTokens, resp.PromptLogProbs = parseLogProbs(gjson.Get(raw, "prompt.0.logprobs"))
	return resp
}

func parseLogProbs(node gjson.Result) ([]string, []float64) {
	if !node.Exists() {
		return nil, nil
	}
	if content := node.Get("content"); content.IsArray() {
		var tokens []string
		var logProbs []float64
		content.ForEach(func(_, v gjson.Result) bool {
			tokens = append(tokens, v.Get("token").String())
			logProbs = append(logProbs, v.Get("logprob").Float())
			return true
		})
		return tokens, logProbs
	}
	var tokens []string
	var logProbs []float64
	node.Get("tokens").ForEach(func(_, v gjson.Result) bool {
		tokens = append(tokens, v.String())
		return true
	})
	node.Get("token_logprobs").ForEach(func(_, v gjson.Result) bool {
		logProbs = append(logProbs, v.Float())
		return true
	})
	return tokens, logProbs
}
