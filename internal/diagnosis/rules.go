package diagnosis

import (
	"strings"

	"github.com/BTreeMap/AgriAI/internal/models"
)

// rule maps a keyword set to a canned diagnosis.
// A rule fires when any keyword appears and, if requires is non-empty, any of requires appears too.
type rule struct {
	name           string
	keywords       []string
	requires       []string
	issue          string
	confidence     int
	recommendation string
	risk           models.RiskLevel
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		name:           "nitrogen-deficiency",
		keywords:       []string{"yellow", "yellowing", "pale"},
		requires:       []string{"leaf", "leaves"},
		issue:          "Nitrogen deficiency (yellowing leaves)",
		confidence:     70,
		recommendation: "Apply urea fertilizer (50kg per hectare) or compost. Water regularly.",
		risk:           models.RiskMedium,
	},
	{
		name:           "fungal-leaf-spots",
		keywords:       []string{"spots", "brown spots", "black spots"},
		issue:          "Fungal infection (leaf spots)",
		confidence:     65,
		recommendation: "Remove affected leaves. Apply fungicide or neem oil spray. Improve air circulation.",
		risk:           models.RiskHigh,
	},
	{
		name:           "water-stress",
		keywords:       []string{"wilting", "drooping", "droopy"},
		issue:          "Water stress or root damage",
		confidence:     75,
		recommendation: "Check soil moisture. Water deeply if dry. Check for root rot if soil is wet.",
		risk:           models.RiskMedium,
	},
	{
		name:           "pest-damage",
		keywords:       []string{"holes", "eaten", "chewed"},
		issue:          "Pest damage (likely caterpillars or beetles)",
		confidence:     70,
		recommendation: "Hand-pick pests if visible. Apply neem oil or soap spray. Use companion planting.",
		risk:           models.RiskMedium,
	},
	{
		name:           "stunted-growth",
		keywords:       []string{"stunted", "small", "not growing"},
		issue:          "Nutrient deficiency or poor soil",
		confidence:     60,
		recommendation: "Add compost or balanced fertilizer. Check soil pH. Ensure adequate water.",
		risk:           models.RiskMedium,
	},
}

// Fallback diagnosis returned when no rule matches.
const (
	UnknownIssue          = "Unable to diagnose - need more information"
	UnknownConfidence     = 30
	UnknownRecommendation = "Please send a photo of your crop via WhatsApp for better diagnosis. Describe: leaf color, spots, wilting, pests visible."
)

func (r rule) matches(text string) bool {
	if !containsAny(text, r.keywords) {
		return false
	}
	return len(r.requires) == 0 || containsAny(text, r.requires)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Classify runs the deterministic keyword classifier over an observation.
// It always returns a valid rule-based diagnosis.
func Classify(crop, observation string) models.Diagnosis {
	text := strings.ToLower(observation)
	for _, r := range rules {
		if r.matches(text) {
			return models.Diagnosis{
				Crop:           crop,
				Issue:          r.issue,
				Confidence:     r.confidence,
				Recommendation: r.recommendation,
				Risk:           r.risk,
				Method:         models.MethodRuleBased,
			}
		}
	}
	return models.Diagnosis{
		Crop:           crop,
		Issue:          UnknownIssue,
		Confidence:     UnknownConfidence,
		Recommendation: UnknownRecommendation,
		Risk:           models.RiskUnknown,
		Method:         models.MethodRuleBased,
	}
}
