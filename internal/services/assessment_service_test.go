package services

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

const validAssessmentJSON = `{
	"overall_score": 78,
	"ats_score": 82,
	"content_score": 75,
	"formatting_score": 80,
	"strengths": ["Clear work history"],
	"weaknesses": ["No measurable outcomes"],
	"recommendations": ["Quantify achievements"],
	"enhanced_recommendations": [{
		"issue": "Vague summary",
		"suggestion": "Lead with your specialism",
		"ai_generated_improvement": "Senior software engineer with nine years of experience building payment systems for regulated financial institutions.",
		"improvement_type": "summary"
	}]
}`

func TestParseAssessment_DirectJSON(t *testing.T) {
	parsed, err := parseAssessment(validAssessmentJSON)
	if err != nil {
		t.Fatalf("parseAssessment failed: %v", err)
	}
	if parsed.OverallScore == nil || *parsed.OverallScore != 78 {
		t.Errorf("overall_score not parsed: %+v", parsed.OverallScore)
	}
	if len(parsed.EnhancedRecommendations) != 1 {
		t.Errorf("Expected 1 enhanced recommendation, got %d", len(parsed.EnhancedRecommendations))
	}
}

func TestParseAssessment_ExtractsFromProse(t *testing.T) {
	raw := "Here is your assessment:\n\n" + validAssessmentJSON + "\n\nLet me know if you need anything else!"
	parsed, err := parseAssessment(raw)
	if err != nil {
		t.Fatalf("parseAssessment failed on prose-wrapped JSON: %v", err)
	}
	if parsed.ATSScore == nil || *parsed.ATSScore != 82 {
		t.Errorf("ats_score not parsed: %+v", parsed.ATSScore)
	}
}

func TestParseAssessment_MarkdownFence(t *testing.T) {
	raw := "```json\n" + validAssessmentJSON + "\n```"
	if _, err := parseAssessment(raw); err != nil {
		t.Fatalf("parseAssessment failed on fenced JSON: %v", err)
	}
}

func TestParseAssessment_RepairsAlmostJSON(t *testing.T) {
	// Trailing comma makes this invalid JSON; the repair pass should fix it
	raw := `{"overall_score": 50, "ats_score": 50, "content_score": 50, "formatting_score": 50, "strengths": ["a",],}`
	parsed, err := parseAssessment(raw)
	if err != nil {
		t.Fatalf("parseAssessment failed on repairable JSON: %v", err)
	}
	if parsed.OverallScore == nil || *parsed.OverallScore != 50 {
		t.Errorf("Repaired parse lost overall_score: %+v", parsed.OverallScore)
	}
}

func TestParseAssessment_RejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "I cannot assess this CV.", "[1, 2, 3]"} {
		if _, err := parseAssessment(raw); err == nil {
			t.Errorf("Expected parse failure for %q", raw)
		}
	}
}

func TestExtractObjectSpan(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"prose around object", `text {"a": 1} more`, `{"a": 1}`},
		{"nested objects", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{"brace inside string", `{"a": "}", "b": 1}`, `{"a": "}", "b": 1}`},
		{"escaped quote in string", `{"a": "say \"hi\" {"}`, `{"a": "say \"hi\" {"}`},
		{"no object", "nothing here", ""},
		{"unterminated object returned as-is", `{"a": 1`, `{"a": 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractObjectSpan(tt.input); got != tt.want {
				t.Errorf("extractObjectSpan(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuildAssessment_ScoreValidation(t *testing.T) {
	score := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		parsed  *rawAssessment
		wantErr bool
	}{
		{
			"all scores valid",
			&rawAssessment{OverallScore: score(70), ATSScore: score(80), ContentScore: score(60), FormattingScore: score(90)},
			false,
		},
		{
			"missing required score",
			&rawAssessment{OverallScore: score(70), ATSScore: score(80), ContentScore: score(60)},
			true,
		},
		{
			"score above 100",
			&rawAssessment{OverallScore: score(170), ATSScore: score(80), ContentScore: score(60), FormattingScore: score(90)},
			true,
		},
		{
			"negative score",
			&rawAssessment{OverallScore: score(-1), ATSScore: score(80), ContentScore: score(60), FormattingScore: score(90)},
			true,
		},
		{
			"invalid optional keyword score",
			&rawAssessment{OverallScore: score(70), ATSScore: score(80), ContentScore: score(60), FormattingScore: score(90), KeywordMatchScore: score(150)},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildAssessment(tt.parsed, "variant-1", "user-1")
			if (err != nil) != tt.wantErr {
				t.Errorf("buildAssessment() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var valErr *ValidationError
				if !errors.As(err, &valErr) {
					t.Errorf("Expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestBuildAssessment_RoundsFractionalScores(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	parsed := &rawAssessment{OverallScore: score(78.6), ATSScore: score(80.4), ContentScore: score(60), FormattingScore: score(90)}

	assessment, err := buildAssessment(parsed, "variant-1", "user-1")
	if err != nil {
		t.Fatalf("buildAssessment failed: %v", err)
	}
	if assessment.OverallScore != 79 || assessment.ATSScore != 80 {
		t.Errorf("Expected rounded scores 79/80, got %d/%d", assessment.OverallScore, assessment.ATSScore)
	}
}

func TestBuildAssessment_NilSlicesBecomeEmpty(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	parsed := &rawAssessment{OverallScore: score(70), ATSScore: score(80), ContentScore: score(60), FormattingScore: score(90)}

	assessment, err := buildAssessment(parsed, "variant-1", "user-1")
	if err != nil {
		t.Fatalf("buildAssessment failed: %v", err)
	}
	if assessment.Strengths == nil || assessment.Weaknesses == nil || assessment.Recommendations == nil {
		t.Error("Expected empty slices, not nil")
	}
	if assessment.EnhancedRecommendations == nil {
		t.Error("Expected empty enhanced recommendations, not nil")
	}
}

func TestBuildAssessment_PlaceholderSuppression(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	parsed := &rawAssessment{
		OverallScore: score(70), ATSScore: score(80), ContentScore: score(60), FormattingScore: score(90),
		EnhancedRecommendations: []rawEnhancedRecommendation{
			{
				Issue:                  "Weak bullet points",
				Suggestion:             "Use action verbs",
				AIGeneratedImprovement: "[Improved version of your CV section]",
			},
			{
				Issue:                  "Vague summary",
				Suggestion:             "Be specific",
				AIGeneratedImprovement: "Senior engineer with nine years of experience delivering payment infrastructure for regulated institutions.",
			},
		},
	}

	assessment, err := buildAssessment(parsed, "variant-1", "user-1")
	if err != nil {
		t.Fatalf("buildAssessment failed: %v", err)
	}

	suppressed := assessment.EnhancedRecommendations[0]
	if suppressed.AIGeneratedImprovement != "" || suppressed.CanApply {
		t.Errorf("Placeholder improvement not suppressed: %+v", suppressed)
	}
	if suppressed.Issue != "Weak bullet points" || suppressed.Suggestion != "Use action verbs" {
		t.Error("Issue and suggestion must survive suppression")
	}

	kept := assessment.EnhancedRecommendations[1]
	if kept.AIGeneratedImprovement == "" || !kept.CanApply {
		t.Errorf("Genuine improvement wrongly suppressed: %+v", kept)
	}
}

func TestIsPlaceholderImprovement(t *testing.T) {
	genuine := "Led a team of five engineers delivering a payments platform processing 2M transactions per day."

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", true},
		{"whitespace only", "   \n  ", true},
		{"too short", "Improved text.", true},
		{"bracketed improvement reference", "[Improved version of this section goes here, rewritten professionally]", true},
		{"bracketed your-cv reference", "[Rewritten content based on your CV and the job description provided]", true},
		{"bracketed insert marker", "[Insert a compelling professional summary here that highlights skills]", true},
		{"case insensitive", "[IMPROVED VERSION OF THE SUMMARY SECTION WITH STRONGER LANGUAGE HERE]", true},
		{"genuine replacement", genuine, false},
		{"genuine text with incidental brackets", genuine + " [2019-2024]", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPlaceholderImprovement(tt.text); got != tt.want {
				t.Errorf("IsPlaceholderImprovement(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestAssessmentService_ProcessPersistsValidatedOutput(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	service := NewAssessmentService(NewAssessmentStore(db))
	mock.ExpectExec("INSERT INTO cv_assessments").WillReturnResult(sqlmock.NewResult(0, 1))

	// No keyword score in the output even though a job description was
	// supplied: accepted, the score stays absent.
	assessment, err := service.Process(validAssessmentJSON, "variant-1", "user-1", true)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if assessment.ID == "" {
		t.Error("Expected a generated assessment ID")
	}
	if assessment.OverallScore != 78 || assessment.CVVariantID != "variant-1" {
		t.Errorf("Assessment fields not carried through: %+v", assessment)
	}
	if assessment.KeywordMatchScore != nil {
		t.Errorf("Expected absent keyword score, got %d", *assessment.KeywordMatchScore)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestAssessmentService_ProcessPersistsNothingOnMalformedOutput(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	service := NewAssessmentService(NewAssessmentStore(db))

	// No expectations registered: malformed output must never reach storage
	_, err := service.Process("I could not assess this CV, sorry!", "variant-1", "user-1", false)
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("Expected ErrMalformedOutput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database touched on malformed output: %v", err)
	}
}
