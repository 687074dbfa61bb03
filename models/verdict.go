package models

import "strings"

// Classification is the overall verdict class returned by the classifier.
type Classification string

const (
	ClassificationSafe      Classification = "safe"
	ClassificationRisky     Classification = "risky"
	ClassificationOffensive Classification = "offensive"
)

// Valid returns true for the three known classes.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationSafe, ClassificationRisky, ClassificationOffensive:
		return true
	}
	return false
}

// ParseClassification normalizes s and reports whether it is a known class.
// Unknown values map to ClassificationSafe.
func ParseClassification(s string) (Classification, bool) {
	c := Classification(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return ClassificationSafe, false
	}
	return c, true
}

// Dimension is one fixed axis of harm.
type Dimension string

const (
	DimensionHateSpeech         Dimension = "hate_speech"
	DimensionHarassment         Dimension = "harassment"
	DimensionProfanity          Dimension = "profanity"
	DimensionToxicity           Dimension = "toxicity"
	DimensionSelfHarmOrViolence Dimension = "self_harm_or_violence"
	DimensionMisinformation     Dimension = "misinformation"
)

// Dimensions lists every harm dimension in prompt order.
var Dimensions = []Dimension{
	DimensionHateSpeech,
	DimensionHarassment,
	DimensionProfanity,
	DimensionToxicity,
	DimensionSelfHarmOrViolence,
	DimensionMisinformation,
}

// Known reports whether d belongs to the fixed set.
func (d Dimension) Known() bool {
	for _, k := range Dimensions {
		if d == k {
			return true
		}
	}
	return false
}

// DimensionScore is the score for a single dimension.
type DimensionScore struct {
	Score       int    `json:"score"`
	Explanation string `json:"explanation"`
}

// Verdict is the structured classifier output.
type Verdict struct {
	OverallScore          int                          `json:"overall_score"`
	OverallClassification Classification               `json:"overall_classification"`
	Justification         string                       `json:"justification"`
	Dimensions            map[Dimension]DimensionScore `json:"dimensions"`
	LanguageDetected      string                       `json:"language_detected,omitempty"`
}

// ClampScore bounds a score to [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Normalize clamps scores, coerces the classification and drops unknown
// dimensions. It returns a fresh value and leaves v untouched.
func (v Verdict) Normalize() Verdict {
	out := v
	out.OverallScore = ClampScore(v.OverallScore)
	if !out.OverallClassification.Valid() {
		out.OverallClassification = ClassificationSafe
	}
	out.Dimensions = make(map[Dimension]DimensionScore, len(v.Dimensions))
	for name, score := range v.Dimensions {
		if !name.Known() {
			continue
		}
		score.Score = ClampScore(score.Score)
		out.Dimensions[name] = score
	}
	return out
}

// Complete returns a copy with every dimension present. Missing ones are
// reported with score 0.
func (v Verdict) Complete() Verdict {
	out := v.Normalize()
	for _, d := range Dimensions {
		if _, ok := out.Dimensions[d]; !ok {
			out.Dimensions[d] = DimensionScore{Score: 0, Explanation: "not assessed"}
		}
	}
	return out
}

// SafeDefault is the conservative verdict used when the classifier output
// cannot be used.
func SafeDefault(justification string) Verdict {
	return Verdict{
		OverallScore:          0,
		OverallClassification: ClassificationSafe,
		Justification:         justification,
		Dimensions:            map[Dimension]DimensionScore{},
	}
}
