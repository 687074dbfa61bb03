package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elum-utils/gatekeeper/models"
)

func sampleVerdict() models.Verdict {
	return models.Verdict{
		OverallScore:          37,
		OverallClassification: models.ClassificationRisky,
		Justification:         "sarcastic jab at a group",
		LanguageDetected:      "en",
		Dimensions: map[models.Dimension]models.DimensionScore{
			models.DimensionHateSpeech:         {Score: 20, Explanation: "mild generalisation"},
			models.DimensionHarassment:         {Score: 41, Explanation: "targets a user"},
			models.DimensionProfanity:          {Score: 0, Explanation: "none"},
			models.DimensionToxicity:           {Score: 37, Explanation: "dismissive tone"},
			models.DimensionSelfHarmOrViolence: {Score: 0, Explanation: "none"},
			models.DimensionMisinformation:     {Score: 5, Explanation: "opinion"},
		},
	}
}

func TestParseRoundTripWithNoise(t *testing.T) {
	v := sampleVerdict()
	body, err := json.Marshal(v)
	require.NoError(t, err)

	noisy := []string{
		string(body),
		"```json\n" + string(body) + "\n```",
		"Sure! Here is the analysis:\n" + string(body) + "\nLet me know if you need more.",
		"<think>the user wants {json}</think>\n" + string(body),
		"```\n" + string(body) + "```  ",
	}
	for _, raw := range noisy {
		res := Parse(raw)
		require.False(t, res.Fallback, "raw: %q", raw)
		assert.Equal(t, v, res.Verdict)
	}
}

// rawJSON marshals v the way models emit it, with '<' and '>' left as is.
func rawJSON(t *testing.T, v any) string {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(v))
	return strings.TrimSpace(buf.String())
}

func TestParseRoundTripAwkwardStrings(t *testing.T) {
	texts := []string{
		"user prefixed slurs with a <think> tag",
		"a stray </think> before <think> and no close",
		"quoted {braces} and a lone } here",
		"explains ```json {\"a\":1}``` fences",
		"ends with an open brace {",
	}
	wrap := []func(string) string{
		func(b string) string { return b },
		func(b string) string { return "```json\n" + b + "\n```" },
		func(b string) string { return "Here you go:\n" + b + "\nThanks." },
		func(b string) string { return "<think>weighing {tone} first</think>\n" + b },
	}
	for _, text := range texts {
		v := sampleVerdict()
		v.OverallClassification = models.ClassificationOffensive
		v.OverallScore = 95
		v.Justification = text
		v.Dimensions[models.DimensionToxicity] = models.DimensionScore{Score: 90, Explanation: text}
		body := rawJSON(t, v)
		for _, w := range wrap {
			raw := w(body)
			res := Parse(raw)
			require.False(t, res.Fallback, "raw: %q", raw)
			assert.Equal(t, v, res.Verdict, "raw: %q", raw)
		}
	}
}

func TestParseThinkTagInOffensiveJustification(t *testing.T) {
	res := Parse(`{"overall_classification":"offensive","overall_score":95,"justification":"user prefixed slurs with a <think> tag","dimensions":{}}`)
	require.False(t, res.Fallback)
	assert.Equal(t, models.ClassificationOffensive, res.Verdict.OverallClassification)
	assert.Equal(t, 95, res.Verdict.OverallScore)
}

func TestStripThinkBlock(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"<think>plan</think>{}", "{}", true},
		{"pre <think>a {b}</think> post", "pre  post", true},
		{"</think> x <think> y", "</think> x <think> y", false},
		{"<think> never closed {}", "<think> never closed {}", false},
		{`{"j":"<think>x</think>"}`, `{"j":"<think>x</think>"}`, false},
		{"no tags", "no tags", false},
	}
	for _, tc := range cases {
		got, ok := stripThinkBlock(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
	}
}

func TestParseTrailingBraceGarbage(t *testing.T) {
	body, err := json.Marshal(sampleVerdict())
	require.NoError(t, err)

	res := Parse(string(body) + "\n(note: scores use {0..100})")
	require.False(t, res.Fallback)
	assert.Equal(t, sampleVerdict(), res.Verdict)
	require.NotEmpty(t, res.Anomalies)
	assert.Equal(t, KindTrailing, res.Anomalies[0].Kind)
}

func TestParseFencedOffensive(t *testing.T) {
	raw := "```json\n{\"overall_classification\":\"offensive\",\"overall_score\":91,\"justification\":\"x\",\"dimensions\":{}}\n```"
	res := Parse(raw)
	require.False(t, res.Fallback)
	assert.Equal(t, models.ClassificationOffensive, res.Verdict.OverallClassification)
	assert.Equal(t, 91, res.Verdict.OverallScore)
	assert.Equal(t, "x", res.Verdict.Justification)
	assert.Empty(t, res.Verdict.Dimensions)
}

func TestParseMalformedFallsBackToSafe(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot help with that.",
		"{not json at all}",
		"} backwards {",
		`{"overall_score": 50}`,
		`{"overall_classification": "offensive"}`,
		`{"overall_classification": "risky", "overall_score": "high"}`,
	} {
		res := Parse(raw)
		require.True(t, res.Fallback, "raw: %q", raw)
		assert.Equal(t, models.ClassificationSafe, res.Verdict.OverallClassification)
		assert.Equal(t, 0, res.Verdict.OverallScore)
		assert.Empty(t, res.Verdict.Dimensions)
		assert.NotEmpty(t, res.Verdict.Justification)
		require.NotNil(t, res.Err)
		assert.True(t, errors.Is(res.Err, models.ErrParse))
	}
}

func TestParseCoercesUnknownClassification(t *testing.T) {
	res := Parse(`{"overall_classification":"toxic","overall_score":80,"justification":"j"}`)
	require.False(t, res.Fallback)
	assert.Equal(t, models.ClassificationSafe, res.Verdict.OverallClassification)
	assert.Equal(t, 80, res.Verdict.OverallScore)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, KindClassification, res.Anomalies[0].Kind)
}

func TestParseClampsScores(t *testing.T) {
	raw := `{"overall_classification":"Offensive","overall_score":250,
		"dimensions":{"toxicity":{"score":-12,"explanation":"?"},"hate_speech":{"score":"73.6"},"profanity":12,"spam":{"score":5}}}`
	res := Parse(raw)
	require.False(t, res.Fallback)
	v := res.Verdict
	assert.Equal(t, models.ClassificationOffensive, v.OverallClassification)
	assert.Equal(t, 100, v.OverallScore)
	assert.Equal(t, 0, v.Dimensions[models.DimensionToxicity].Score)
	assert.Equal(t, 74, v.Dimensions[models.DimensionHateSpeech].Score)
	assert.Equal(t, 12, v.Dimensions[models.DimensionProfanity].Score)
	assert.NotContains(t, v.Dimensions, models.Dimension("spam"))

	kinds := map[string]int{}
	for _, a := range res.Anomalies {
		kinds[a.Kind]++
	}
	assert.Equal(t, 2, kinds[KindScoreRange])
	assert.Equal(t, 1, kinds[KindDimension])
}

func TestParseCamelCaseAliases(t *testing.T) {
	res := Parse(`{"overallClassification":"safe","overallScore":2,"languageDetected":"es","justification":"hola"}`)
	require.False(t, res.Fallback)
	assert.Equal(t, 2, res.Verdict.OverallScore)
	assert.Equal(t, "es", res.Verdict.LanguageDetected)
}

func TestParseBadDimensionsKeepsVerdict(t *testing.T) {
	res := Parse(`{"overall_classification":"risky","overall_score":40,"dimensions":["toxicity"]}`)
	require.False(t, res.Fallback)
	assert.Equal(t, models.ClassificationRisky, res.Verdict.OverallClassification)
	assert.Empty(t, res.Verdict.Dimensions)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, KindDimension, res.Anomalies[0].Kind)
}
