package models

import "time"

// CVQualityAssessment is one scored review of a CV variant. Rows are
// immutable: a re-run inserts a new row and readers pick the newest.
type CVQualityAssessment struct {
	ID                      string                   `json:"id"`
	CVVariantID             string                   `json:"cv_variant_id"`
	UserID                  string                   `json:"user_id"`
	OverallScore            int                      `json:"overall_score"`
	ATSScore                int                      `json:"ats_score"`
	ContentScore            int                      `json:"content_score"`
	FormattingScore         int                      `json:"formatting_score"`
	KeywordMatchScore       *int                     `json:"keyword_match_score,omitempty"`
	Strengths               []string                 `json:"strengths"`
	Weaknesses              []string                 `json:"weaknesses"`
	Recommendations         []string                 `json:"recommendations"`
	EnhancedRecommendations []EnhancedRecommendation `json:"enhanced_recommendations"`
	CreatedAt               time.Time                `json:"created_at"`
}

// EnhancedRecommendation pairs an identified issue with an optional
// AI-generated replacement text. The generated text is suppressed when it
// trips the placeholder filter; issue and suggestion always survive.
type EnhancedRecommendation struct {
	Issue                  string   `json:"issue"`
	Suggestion             string   `json:"suggestion"`
	Examples               []string `json:"examples,omitempty"`
	AIGeneratedImprovement string   `json:"ai_generated_improvement,omitempty"`
	CanApply               bool     `json:"can_apply"`
	ImprovementType        string   `json:"improvement_type,omitempty"`
}

// AssessmentRequest is the ephemeral input to an assessment run. It is
// never persisted beyond processing.
type AssessmentRequest struct {
	UserID         string `json:"-"`
	CVVariantID    string `json:"-"`
	JobDescription string `json:"job_description,omitempty"`
}
