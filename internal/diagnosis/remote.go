package diagnosis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/tidwall/gjson"
)

// Outcome tells whether the remote tier produced a usable diagnosis.
type Outcome int

const (
	// OutcomeNoResult means the engine must fall back to the keyword classifier.
	OutcomeNoResult Outcome = iota
	// OutcomeDiagnosis means Diagnosis holds a normalised AI diagnosis.
	OutcomeDiagnosis
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDiagnosis:
		return "diagnosis"
	default:
		return "no-result"
	}
}

// RemoteResult is the typed result of a remote diagnosis attempt.
type RemoteResult struct {
	Outcome   Outcome
	Diagnosis models.Diagnosis
	// Reason explains a no-result for logging.
	Reason string
}

// NoResult builds a RemoteResult that asks for the fallback path.
func NoResult(reason string) RemoteResult {
	return RemoteResult{Outcome: OutcomeNoResult, Reason: reason}
}

// Found wraps a usable diagnosis.
func Found(d models.Diagnosis) RemoteResult {
	return RemoteResult{Outcome: OutcomeDiagnosis, Diagnosis: d}
}

// Remote is a diagnosis tier backed by an external service.
// Implementations never return errors; every failure is a no-result.
type Remote interface {
	Diagnose(ctx context.Context, req Request) RemoteResult
}

// Completer sends a prompt to a language model. genai.Client implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AIRemote asks a language model for a diagnosis in the Diagnosis JSON shape.
type AIRemote struct {
	llm Completer
}

// NewAIRemote creates a remote tier on top of a Completer.
func NewAIRemote(llm Completer) *AIRemote {
	return &AIRemote{llm: llm}
}

// Diagnose implements Remote.
func (a *AIRemote) Diagnose(ctx context.Context, req Request) RemoteResult {
	content, err := a.llm.Complete(ctx, BuildPrompt(req))
	if err != nil {
		slog.Warn("AIRemote.Diagnose: remote call failed", "error", err, "crop", req.Crop)
		return NoResult(fmt.Sprintf("remote call failed: %v", err))
	}
	d, ok := ExtractDiagnosis(content, req.Crop)
	if !ok {
		slog.Warn("AIRemote.Diagnose: response did not contain a usable diagnosis", "crop", req.Crop, "length", len(content))
		return NoResult("unparseable response")
	}
	return Found(d)
}

// BuildPrompt renders the advisor prompt for a request.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are an expert agricultural advisor. Analyze this farmer's situation and provide actionable advice.\n\n")
	fmt.Fprintf(&b, "Crop: %s\n", req.Crop)
	fmt.Fprintf(&b, "Location: %s\n", req.Location)
	fmt.Fprintf(&b, "Farmer's observation: %s", req.Observation)
	if w := WeatherSummary(req.Weather); w != "" {
		b.WriteString("\n")
		b.WriteString(w)
	}
	b.WriteString("\n\nProvide a diagnosis in this exact JSON format:\n")
	fmt.Fprintf(&b, `{
    "crop": %q,
    "issue": "brief description of the problem",
    "confidence": 75,
    "recommendation": "specific action to take",
    "risk": "low/medium/high",
    "method": "ai"
}`, req.Crop)
	b.WriteString("\n\nBe specific and practical. Focus on low-cost solutions.")
	return b.String()
}

// WeatherSummary renders the compact weather line embedded in prompts.
func WeatherSummary(w *models.WeatherSnapshot) string {
	if w == nil {
		return ""
	}
	return fmt.Sprintf("Current weather: %.1f°C, Wind: %.1f km/h", w.Temperature, w.WindSpeed)
}

// ExtractDiagnosis locates the JSON object embedded in free-form model output
// (first '{' to last '}') and normalises it into a Diagnosis.
// It reports false when no well-formed diagnosis can be recovered.
func ExtractDiagnosis(content, crop string) (models.Diagnosis, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return models.Diagnosis{}, false
	}
	raw := content[start : end+1]
	if !gjson.Valid(raw) {
		return models.Diagnosis{}, false
	}
	obj := gjson.Parse(raw)
	if !obj.IsObject() {
		return models.Diagnosis{}, false
	}

	d := models.Diagnosis{
		Crop:           strings.TrimSpace(obj.Get("crop").String()),
		Issue:          strings.TrimSpace(obj.Get("issue").String()),
		Recommendation: strings.TrimSpace(obj.Get("recommendation").String()),
		Confidence:     models.ClampConfidence(parseConfidence(obj.Get("confidence"))),
		Risk:           models.NormalizeRiskLevel(obj.Get("risk").String()),
		Method:         models.MethodAI,
	}
	if d.Issue == "" || d.Recommendation == "" {
		return models.Diagnosis{}, false
	}
	if d.Crop == "" {
		d.Crop = crop
	}
	return d, true
}

// parseConfidence accepts numbers and numeric strings such as "80" or "80%".
func parseConfidence(v gjson.Result) int {
	switch v.Type {
	case gjson.Number:
		return int(math.Round(v.Float()))
	case gjson.String:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v.Str), "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return int(math.Round(f))
	default:
		return 0
	}
}
