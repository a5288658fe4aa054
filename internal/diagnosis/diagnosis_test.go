package diagnosis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Rules(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		issue      string
		confidence int
		risk       models.RiskLevel
	}{
		{"yellow leaves", "The leaves are turning yellow", "Nitrogen deficiency (yellowing leaves)", 70, models.RiskMedium},
		{"pale leaf", "one PALE leaf near the bottom", "Nitrogen deficiency (yellowing leaves)", 70, models.RiskMedium},
		{"yellowing leaves with spots", "yellowing leaves with brown spots", "Nitrogen deficiency (yellowing leaves)", 70, models.RiskMedium},
		{"spots", "black spots everywhere", "Fungal infection (leaf spots)", 65, models.RiskHigh},
		{"yellow spots without leaf context", "yellow spots on the stem", "Fungal infection (leaf spots)", 65, models.RiskHigh},
		{"wilting", "plants are drooping in the afternoon", "Water stress or root damage", 75, models.RiskMedium},
		{"spots before wilting", "wilting with spots", "Fungal infection (leaf spots)", 65, models.RiskHigh},
		{"pests", "something chewed the stems", "Pest damage (likely caterpillars or beetles)", 70, models.RiskMedium},
		{"wilting before pests", "wilting and eaten", "Water stress or root damage", 75, models.RiskMedium},
		{"stunted", "maize is not growing", "Nutrient deficiency or poor soil", 60, models.RiskMedium},
		{"pests before stunted", "small holes in the cobs", "Pest damage (likely caterpillars or beetles)", 70, models.RiskMedium},
		{"yellow without leaf falls through", "the fruit is yellow", UnknownIssue, UnknownConfidence, models.RiskUnknown},
		{"no match", "my goat is hungry", UnknownIssue, UnknownConfidence, models.RiskUnknown},
		{"empty", "", UnknownIssue, UnknownConfidence, models.RiskUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify("maize", tt.text)
			assert.Equal(t, tt.issue, d.Issue)
			assert.Equal(t, tt.confidence, d.Confidence)
			assert.Equal(t, tt.risk, d.Risk)
			assert.Equal(t, models.MethodRuleBased, d.Method)
			assert.Equal(t, "maize", d.Crop)
			assert.NoError(t, d.Validate())
		})
	}
}

func TestClassify_UnknownRecommendationAsksForPhoto(t *testing.T) {
	d := Classify("beans", "hello")
	assert.Contains(t, d.Recommendation, "photo")
}

func TestExtractDiagnosis(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ok      bool
		want    models.Diagnosis
	}{
		{
			name:    "embedded json with prose",
			content: "Sure! Here is the diagnosis:\n```json\n{\"crop\":\"tomato\",\"issue\":\"Early blight\",\"confidence\":82,\"recommendation\":\"Remove lower leaves\",\"risk\":\"high\",\"method\":\"ai\"}\n```\nGood luck.",
			ok:      true,
			want:    models.Diagnosis{Crop: "tomato", Issue: "Early blight", Confidence: 82, Recommendation: "Remove lower leaves", Risk: models.RiskHigh, Method: models.MethodAI},
		},
		{
			name:    "normalises out of range values",
			content: `{"issue":"Rust","confidence":"140%","recommendation":"Spray","risk":"Severe","method":"rule-based"}`,
			ok:      true,
			want:    models.Diagnosis{Crop: "maize", Issue: "Rust", Confidence: 100, Recommendation: "Spray", Risk: models.RiskUnknown, Method: models.MethodAI},
		},
		{
			name:    "negative confidence clamps to zero",
			content: `{"crop":"maize","issue":"Rust","confidence":-3,"recommendation":"Spray","risk":"LOW"}`,
			ok:      true,
			want:    models.Diagnosis{Crop: "maize", Issue: "Rust", Confidence: 0, Recommendation: "Spray", Risk: models.RiskLow, Method: models.MethodAI},
		},
		{name: "no braces", content: "I cannot help with that.", ok: false},
		{name: "invalid json", content: "{crop: maize, issue: }", ok: false},
		{name: "missing issue", content: `{"crop":"maize","recommendation":"water","confidence":50}`, ok: false},
		{name: "reversed braces", content: "} nothing {", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := ExtractDiagnosis(tt.content, "maize")
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, d)
				assert.NoError(t, d.Validate())
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	req := Request{
		Crop:        "cassava",
		Observation: "leaves curling",
		Location:    "Kisumu",
		Weather:     &models.WeatherSnapshot{Temperature: 27.5, WindSpeed: 12},
	}
	p := BuildPrompt(req)
	assert.Contains(t, p, "Crop: cassava")
	assert.Contains(t, p, "Location: Kisumu")
	assert.Contains(t, p, "Farmer's observation: leaves curling")
	assert.Contains(t, p, "Current weather: 27.5°C, Wind: 12.0 km/h")
	assert.Contains(t, p, `"method": "ai"`)

	req.Weather = nil
	assert.NotContains(t, BuildPrompt(req), "Current weather")
}

type fakeCompleter struct {
	content string
	err     error
	prompt  string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.content, f.err
}

type fakeRemote struct {
	result RemoteResult
	calls  int
	wait   bool
}

func (f *fakeRemote) Diagnose(ctx context.Context, _ Request) RemoteResult {
	f.calls++
	if f.wait {
		<-ctx.Done()
		return NoResult("context done")
	}
	return f.result
}

func TestAIRemote_Diagnose(t *testing.T) {
	llm := &fakeCompleter{content: `{"crop":"rice","issue":"Blast","confidence":77,"recommendation":"Use resistant seed","risk":"medium","method":"ai"}`}
	res := NewAIRemote(llm).Diagnose(context.Background(), Request{Crop: "rice", Observation: "lesions", Location: "unknown"})
	require.Equal(t, OutcomeDiagnosis, res.Outcome)
	assert.Equal(t, "Blast", res.Diagnosis.Issue)
	assert.Contains(t, llm.prompt, "lesions")
}

func TestAIRemote_FailuresAreNoResult(t *testing.T) {
	res := NewAIRemote(&fakeCompleter{err: errors.New("connection refused")}).Diagnose(context.Background(), Request{Crop: "rice"})
	assert.Equal(t, OutcomeNoResult, res.Outcome)
	assert.Contains(t, res.Reason, "connection refused")

	res = NewAIRemote(&fakeCompleter{content: "no json here"}).Diagnose(context.Background(), Request{Crop: "rice"})
	assert.Equal(t, OutcomeNoResult, res.Outcome)
}

func TestEngine_RuleBasedOnly(t *testing.T) {
	e := NewEngine()
	assert.False(t, e.RemoteEnabled())
	d, err := e.Diagnose(context.Background(), Request{Observation: "leaves are pale"})
	require.NoError(t, err)
	assert.Equal(t, models.MethodRuleBased, d.Method)
	assert.Equal(t, models.UnknownValue, d.Crop)
	assert.Equal(t, 70, d.Confidence)
}

func TestEngine_PrefersRemote(t *testing.T) {
	want := models.Diagnosis{Crop: "maize", Issue: "Rust", Confidence: 90, Recommendation: "Spray", Risk: models.RiskHigh, Method: models.MethodAI}
	remote := &fakeRemote{result: Found(want)}
	d, err := NewEngine(WithRemote(remote)).Diagnose(context.Background(), Request{Crop: "maize", Observation: "spots"})
	require.NoError(t, err)
	assert.Equal(t, want, d)
	assert.Equal(t, 1, remote.calls)
}

func TestEngine_FallsBackOnNoResult(t *testing.T) {
	remote := &fakeRemote{result: NoResult("unparseable response")}
	d, err := NewEngine(WithRemote(remote)).Diagnose(context.Background(), Request{Crop: "maize", Observation: "brown spots"})
	require.NoError(t, err)
	assert.Equal(t, models.MethodRuleBased, d.Method)
	assert.Equal(t, 65, d.Confidence)
}

func TestEngine_CallerDeadlineIsReported(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewEngine(WithRemote(&fakeRemote{wait: true})).Diagnose(ctx, Request{Observation: "spots"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_OutputAlwaysInBounds(t *testing.T) {
	remotes := []Remote{
		nil,
		&fakeRemote{result: NoResult("down")},
		NewAIRemote(&fakeCompleter{content: `{"issue":"x","recommendation":"y","confidence":1000,"risk":"catastrophic"}`}),
	}
	texts := []string{"yellow leaves", "spots", "wilting", "holes", "stunted", "???"}
	for _, r := range remotes {
		var opts []Option
		if r != nil {
			opts = append(opts, WithRemote(r))
		}
		e := NewEngine(opts...)
		for _, text := range texts {
			d, err := e.Diagnose(context.Background(), Request{Crop: "maize", Observation: text})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, d.Confidence, models.MinConfidence)
			assert.LessOrEqual(t, d.Confidence, models.MaxConfidence)
			assert.True(t, models.IsValidRiskLevel(d.Risk), "risk %q", d.Risk)
		}
	}
}
