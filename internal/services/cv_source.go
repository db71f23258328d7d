package services

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/wellis321/cv-app-sub000/internal/database"
)

// CVVariantSource is the read-only boundary to the CV content CRUD
// subsystem. The assessment flow only ever needs the rendered text of a
// variant; everything else about variants lives elsewhere.
type CVVariantSource interface {
	VariantContent(cvVariantID, userID string) (string, error)
}

// dbVariantSource reads variant content from the CRUD app's table.
type dbVariantSource struct {
	db *database.DB
}

// NewCVVariantSource returns a database-backed variant source.
func NewCVVariantSource(db *database.DB) CVVariantSource {
	return &dbVariantSource{db: db}
}

func (s *dbVariantSource) VariantContent(cvVariantID, userID string) (string, error) {
	var content string
	err := s.db.QueryRow(`
		SELECT content FROM cv_variants WHERE id = ? AND user_id = ?
	`, cvVariantID, userID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("CV variant not found")
	}
	if err != nil {
		return "", fmt.Errorf("failed to load CV variant: %w", err)
	}
	return content, nil
}

// BuildAssessmentPrompt assembles the full prompt for a quality
// assessment. All data preparation happens server-side, so the same
// prompt works for direct dispatch and for browser delegation.
func BuildAssessmentPrompt(cvContent, jobDescription string) string {
	var b strings.Builder

	b.WriteString("You are an expert CV reviewer. Assess the CV below and respond with ONLY a JSON object, no prose, matching this shape:\n")
	b.WriteString(`{"overall_score": 0-100, "ats_score": 0-100, "content_score": 0-100, "formatting_score": 0-100`)
	if jobDescription != "" {
		b.WriteString(`, "keyword_match_score": 0-100`)
	}
	b.WriteString(`, "strengths": ["..."], "weaknesses": ["..."], "recommendations": ["..."], "enhanced_recommendations": [{"issue": "...", "suggestion": "...", "examples": ["..."], "ai_generated_improvement": "full replacement text, not a placeholder", "improvement_type": "..."}]}`)
	b.WriteString("\n\nCV:\n")
	b.WriteString(cvContent)

	if jobDescription != "" {
		b.WriteString("\n\nTarget job description:\n")
		b.WriteString(jobDescription)
		b.WriteString("\n\nScore keyword_match_score against this job description.")
	}

	return b.String()
}
