// Package parser recovers a moderation verdict from free-form classifier
// output.
//
// The classifier is asked for a single JSON object but models wrap it in code
// fences, prepend commentary or append notes. Parse takes the span between the
// first '{' and the last '}' as the candidate document. It never fails: any
// output it cannot use becomes the safe default verdict, and the reason is
// reported in Result so callers can log and count it.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/elum-utils/gatekeeper/models"
)

// Anomaly kinds.
const (
	KindFallback       = "fallback"
	KindClassification = "classification"
	KindScoreRange     = "score_range"
	KindDimension      = "dimension"
	KindTrailing       = "trailing_content"
)

// Anomaly is a recoverable defect in the classifier output.
type Anomaly struct {
	Kind   string
	Detail string
}

// Result is the outcome of one parse.
type Result struct {
	Verdict models.Verdict
	// Fallback is true when Verdict is the safe default.
	Fallback  bool
	Err       *models.ParseError
	Anomalies []Anomaly
}

type score float64

func (s *score) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str = strings.TrimSuffix(strings.TrimSpace(str), "%")
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("score %q is not numeric", str)
		}
		*s = score(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = score(f)
	return nil
}

type rawDimension struct {
	Score       *score `json:"score"`
	Explanation string `json:"explanation"`
}

type rawVerdict struct {
	OverallScore             *score          `json:"overall_score"`
	OverallScoreAlt          *score          `json:"overallScore"`
	OverallClassification    *string         `json:"overall_classification"`
	OverallClassificationAlt *string         `json:"overallClassification"`
	Justification            string          `json:"justification"`
	LanguageDetected         string          `json:"language_detected"`
	LanguageDetectedAlt      string          `json:"languageDetected"`
	Dimensions               json.RawMessage `json:"dimensions"`
}

// Parse extracts a verdict from raw classifier output.
func Parse(raw string) Result {
	var res Result

	rv, trailing, perr := decodeVerdict(raw)
	if perr != nil {
		// A reasoning block ahead of the answer may hold braces of its own.
		stripped, ok := stripThinkBlock(raw)
		if !ok {
			return fallback(res, perr)
		}
		if rv, trailing, perr = decodeVerdict(stripped); perr != nil {
			return fallback(res, perr)
		}
	}
	if trailing {
		res.Anomalies = append(res.Anomalies, Anomaly{Kind: KindTrailing, Detail: "content after JSON object ignored"})
	}
	class, overall := rv.classification(), rv.overallScore()

	c, ok := models.ParseClassification(*class)
	if !ok {
		res.Anomalies = append(res.Anomalies, Anomaly{
			Kind:   KindClassification,
			Detail: fmt.Sprintf("unknown classification %q coerced to safe", *class),
		})
	}

	v := models.Verdict{
		OverallClassification: c,
		OverallScore:          res.clamp("overall_score", float64(*overall)),
		Justification:         rv.Justification,
		LanguageDetected:      rv.LanguageDetected,
		Dimensions:            make(map[models.Dimension]models.DimensionScore, len(models.Dimensions)),
	}
	if v.LanguageDetected == "" {
		v.LanguageDetected = rv.LanguageDetectedAlt
	}
	res.parseDimensions(rv.Dimensions, v.Dimensions)

	res.Verdict = v
	return res
}

func (r *Result) parseDimensions(raw json.RawMessage, out map[models.Dimension]models.DimensionScore) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return
	}
	var dims map[string]json.RawMessage
	if err := json.Unmarshal(raw, &dims); err != nil {
		r.Anomalies = append(r.Anomalies, Anomaly{Kind: KindDimension, Detail: "dimensions is not an object"})
		return
	}
	for key, body := range dims {
		name := models.Dimension(strings.ToLower(strings.TrimSpace(key)))
		if !name.Known() {
			r.Anomalies = append(r.Anomalies, Anomaly{Kind: KindDimension, Detail: fmt.Sprintf("unknown dimension %q dropped", key)})
			continue
		}
		var d rawDimension
		if err := json.Unmarshal(body, &d); err != nil {
			// Some models send a bare number instead of {score, explanation}.
			var bare score
			if berr := json.Unmarshal(body, &bare); berr != nil {
				r.Anomalies = append(r.Anomalies, Anomaly{Kind: KindDimension, Detail: fmt.Sprintf("dimension %q malformed", key)})
				continue
			}
			d.Score = &bare
		}
		var s float64
		if d.Score != nil {
			s = float64(*d.Score)
		}
		out[name] = models.DimensionScore{
			Score:       r.clamp(string(name), s),
			Explanation: d.Explanation,
		}
	}
}

func (r *Result) clamp(field string, v float64) int {
	c := math.Min(math.Max(v, 0), 100)
	if c != v {
		r.Anomalies = append(r.Anomalies, Anomaly{Kind: KindScoreRange, Detail: fmt.Sprintf("%s=%v clamped to %v", field, v, c)})
	}
	return models.ClampScore(int(math.Round(c)))
}

func fallback(res Result, perr *models.ParseError) Result {
	res.Fallback = true
	res.Err = perr
	res.Verdict = models.SafeDefault("classifier output unusable, defaulted to safe: " + perr.Reason)
	res.Anomalies = append(res.Anomalies, Anomaly{Kind: KindFallback, Detail: perr.Error()})
	return res
}

// decodeVerdict decodes the span between the first '{' and the last '}'. When
// that span is not valid JSON the first complete object is decoded instead and
// trailing is set. Both required fields must be present.
func decodeVerdict(content string) (rv rawVerdict, trailing bool, perr *models.ParseError) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return rv, false, &models.ParseError{Reason: "no JSON object in output"}
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &rv); err != nil {
		// The last '}' may belong to trailing commentary.
		rv = rawVerdict{}
		if derr := json.NewDecoder(strings.NewReader(content[start:])).Decode(&rv); derr != nil {
			return rawVerdict{}, false, &models.ParseError{Reason: "invalid JSON", Err: err}
		}
		trailing = true
	}
	if rv.classification() == nil {
		return rawVerdict{}, false, &models.ParseError{Reason: "missing overall_classification"}
	}
	if rv.overallScore() == nil {
		return rawVerdict{}, false, &models.ParseError{Reason: "missing overall_score"}
	}
	return rv, trailing, nil
}

func (rv rawVerdict) classification() *string {
	if rv.OverallClassification != nil {
		return rv.OverallClassification
	}
	return rv.OverallClassificationAlt
}

func (rv rawVerdict) overallScore() *score {
	if rv.OverallScore != nil {
		return rv.OverallScore
	}
	return rv.OverallScoreAlt
}

// stripThinkBlock removes a closed <think>...</think> reasoning block that
// opens before the first '{'. It reports false when there is no such block.
func stripThinkBlock(s string) (string, bool) {
	const open, closing = "<think>", "</think>"
	start := strings.Index(s, open)
	if start < 0 {
		return s, false
	}
	if brace := strings.Index(s, "{"); brace >= 0 && brace < start {
		return s, false
	}
	end := strings.Index(s[start+len(open):], closing)
	if end < 0 {
		return s, false
	}
	end += start + len(open)
	return s[:start] + s[end+len(closing):], true
}
