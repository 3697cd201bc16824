package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-agent/internal/model"
)

var (
	yesNoCriterion = model.Criterion{ID: "family", Question: "Is it family owned?", PositiveToken: "YES"}
	ownerCriterion = model.Criterion{ID: "owner", Question: "Who owns it?", PositiveToken: "NAME", Role: "owner"}
	ceoCriterion   = model.Criterion{ID: "ceo", Question: "Who is the CEO?", PositiveToken: "NAME", Role: "CEO"}
)

func TestFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.KindYesNo, For(yesNoCriterion).Kind())
	assert.Equal(t, model.KindNamedEntity, For(ownerCriterion).Kind())
}

func TestYesNo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		criterion model.Criterion
		text      string
		answer    string
		conf      model.Confidence
	}{
		{
			name:      "yes with high confidence",
			criterion: yesNoCriterion,
			text:      "yes, the company is family owned.\nConfidence: HIGH",
			answer:    "YES",
			conf:      model.ConfidenceHigh,
		},
		{
			name:      "marker with token line",
			criterion: yesNoCriterion,
			text:      "Final Answer: NO\nThe company is owned by a private equity firm.\nConfidence: MEDIUM",
			answer:    "NO",
			conf:      model.ConfidenceMedium,
		},
		{
			name:      "marker short answer beats earlier affirmative text",
			criterion: yesNoCriterion,
			text:      "At first it looked like yes.\nFinal Answer:\nNO\nIt was sold in 2019.",
			answer:    "NO",
			conf:      model.ConfidenceLow,
		},
		{
			name:      "custom positive token",
			criterion: model.Criterion{PositiveToken: "QUALIFIED"},
			text:      "Final Answer: QUALIFIED\nMeets every requirement.\nConfidence: 3",
			answer:    "QUALIFIED",
			conf:      model.ConfidenceHigh,
		},
		{
			name:      "custom token negated",
			criterion: model.Criterion{PositiveToken: "QUALIFIED"},
			text:      "Final Answer: NOT QUALIFIED\nConfidence: 2",
			answer:    "NO",
			conf:      model.ConfidenceMedium,
		},
		{
			name:      "no cues defaults to negative",
			criterion: yesNoCriterion,
			text:      "The website does not mention ownership.",
			answer:    "NO",
			conf:      model.ConfidenceLow,
		},
		{
			name:      "affirmative word required whole",
			criterion: yesNoCriterion,
			text:      "Eyes on the yesterday news.",
			answer:    "NO",
			conf:      model.ConfidenceLow,
		},
		{
			name:      "unknown short answer",
			criterion: yesNoCriterion,
			text:      "Final Answer: unknown\nNothing found.",
			answer:    "unknown",
			conf:      model.ConfidenceLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := Extract(tt.text, tt.criterion)
			assert.Equal(t, tt.answer, v.Answer)
			assert.Equal(t, tt.conf, v.Confidence)
			assert.Nil(t, v.Finding)
		})
	}
}

func TestNamedEntity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		criterion model.Criterion
		text      string
		answer    string
	}{
		{"final answer line", ownerCriterion, "Final Answer: John Smith", "John Smith"},
		{"final answer unknown", ownerCriterion, "Final Answer: unknown", "unknown"},
		{"final answer not found", ownerCriterion, "Final Answer: Not Found", "unknown"},
		{"not exact match sentinel", ownerCriterion, "Final Answer: NOT_EXACT_MATCH", "unknown"},
		{"could not find", ownerCriterion, "I could not find who owns this business.", "unknown"},
		{"type token then name", ownerCriterion, "Final Answer: NAME\nJane Doe (founder)\nShe started it in 1998.", "Jane Doe"},
		{"name with role suffix", ownerCriterion, "Final Answer: **Jane Doe**, owner", "Jane Doe"},
		{"bare yes falls through to patterns", ownerCriterion, "Final Answer: YES\nThe owner is Maria Lopez.", "Maria Lopez"},
		{"role is name", ownerCriterion, "Per the state filing, the owner is Robert Chen.", "Robert Chen"},
		{"name is the role", ceoCriterion, "Records show Alice Wong is the current CEO of the firm.", "Alice Wong"},
		{"name label", ownerCriterion, "Name: Peter van Dyke", "Peter van Dyke"},
		{"found label", ownerCriterion, "found: Sam Patel", "Sam Patel"},
		{"sentence final answer uses patterns", ownerCriterion, "Final Answer: I believe the owner is Tom Baker based on filings", "Tom Baker"},
		{"non-name final answer", ownerCriterion, "Final Answer: Unable to determine", "unknown"},
		{"lowercase final answer", ownerCriterion, "Final Answer: john smith", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := Extract(tt.text, tt.criterion)
			assert.Equal(t, tt.answer, v.Answer)
			if tt.answer == model.AnswerUnknown {
				assert.Nil(t, v.Finding)
				return
			}
			require.NotNil(t, v.Finding)
			assert.Equal(t, tt.criterion.FindingKey(), v.Finding.Key)
			assert.Equal(t, tt.answer, v.Finding.Value)
		})
	}
}

func TestNamedEntityNegativeCueExplanation(t *testing.T) {
	t.Parallel()

	v := Extract("Final Answer: unknown", ownerCriterion)
	assert.Equal(t, model.AnswerUnknown, v.Answer)

	v = Extract("Final Answer: Unclear\nConfidence: LOW", ownerCriterion)
	assert.Equal(t, model.AnswerUnknown, v.Answer)
	assert.Equal(t, "Model reported: unclear", v.Explanation)
}

func TestSharedFields(t *testing.T) {
	t.Parallel()

	text := `Final Answer: YES
The company has been run by the Smith family since 1962.
Evidence: About page says "third-generation family business".
  Also confirmed by a 2021 news profile.
Sources: https://acme.com/about
https://news.example.com/acme
Confidence: HIGH`

	v := Extract(text, yesNoCriterion)
	assert.Equal(t, "YES", v.Answer)
	assert.True(t, v.Marked)
	assert.Equal(t, model.ConfidenceHigh, v.Confidence)
	assert.Equal(t, "The company has been run by the Smith family since 1962.", v.Explanation)
	assert.Equal(t, "About page says \"third-generation family business\".\nAlso confirmed by a 2021 news profile.", v.Evidence)
	assert.Equal(t, "https://acme.com/about\nhttps://news.example.com/acme", v.Sources)
}

func TestParseConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want model.Confidence
	}{
		{"Confidence: HIGH", model.ConfidenceHigh},
		{"confidence: medium", model.ConfidenceMedium},
		{"**Confidence:** Low", model.ConfidenceLow},
		{"**Confidence**: high", model.ConfidenceHigh},
		{"Confidence level: 3", model.ConfidenceHigh},
		{"confidence = 2", model.ConfidenceMedium},
		{"I am highly confident", model.ConfidenceLow},
		{"Confidence: LOW\nafter review\nConfidence: HIGH", model.ConfidenceHigh},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseConfidence(tt.text))
		})
	}
}

func TestLabelMissing(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Label("no labels here", "Evidence"))
}

func TestPolarity(t *testing.T) {
	tests := []struct {
		text    string
		decided bool
		yes     bool
	}{
		{"Yes, the company is family owned.", true, true},
		{"The company is not family owned.", true, false},
		{"Yes and no.", false, false},
		{"The owner is Jane Doe.", false, false},
		{"QUALIFIED per state records", true, true},
	}
	for _, tt := range tests {
		decided, yes := Polarity(tt.text, "QUALIFIED")
		assert.Equal(t, tt.decided, decided, tt.text)
		assert.Equal(t, tt.yes, yes, tt.text)
	}
}
