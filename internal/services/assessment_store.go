package services

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/wellis321/cv-app-sub000/internal/database"
	"github.com/wellis321/cv-app-sub000/internal/models"
)

// AssessmentStore persists CV quality assessments. Rows are append-only:
// Create never updates, Latest deterministically picks the newest row, so
// concurrent requests for the same variant need no coordination.
type AssessmentStore struct {
	db *database.DB
}

// NewAssessmentStore creates a new assessment store
func NewAssessmentStore(db *database.DB) *AssessmentStore {
	return &AssessmentStore{db: db}
}

// Create inserts a new immutable assessment row.
func (s *AssessmentStore) Create(a *models.CVQualityAssessment) error {
	strengths, err := json.Marshal(a.Strengths)
	if err != nil {
		return fmt.Errorf("failed to encode strengths: %w", err)
	}
	weaknesses, err := json.Marshal(a.Weaknesses)
	if err != nil {
		return fmt.Errorf("failed to encode weaknesses: %w", err)
	}
	recommendations, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to encode recommendations: %w", err)
	}
	enhanced, err := json.Marshal(a.EnhancedRecommendations)
	if err != nil {
		return fmt.Errorf("failed to encode enhanced recommendations: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO cv_assessments (
			id, cv_variant_id, user_id,
			overall_score, ats_score, content_score, formatting_score, keyword_match_score,
			strengths, weaknesses, recommendations, enhanced_recommendations, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.CVVariantID, a.UserID,
		a.OverallScore, a.ATSScore, a.ContentScore, a.FormattingScore, a.KeywordMatchScore,
		strengths, weaknesses, recommendations, enhanced, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}

	return nil
}

// Latest returns the row with the greatest created_at for the given
// (variant, requester), or nil when none exists.
func (s *AssessmentStore) Latest(cvVariantID, userID string) (*models.CVQualityAssessment, error) {
	var a models.CVQualityAssessment
	var keywordScore sql.NullInt64
	var strengths, weaknesses, recommendations, enhanced []byte

	err := s.db.QueryRow(`
		SELECT id, cv_variant_id, user_id,
		       overall_score, ats_score, content_score, formatting_score, keyword_match_score,
		       strengths, weaknesses, recommendations, enhanced_recommendations, created_at
		FROM cv_assessments
		WHERE cv_variant_id = ? AND user_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, cvVariantID, userID).Scan(
		&a.ID, &a.CVVariantID, &a.UserID,
		&a.OverallScore, &a.ATSScore, &a.ContentScore, &a.FormattingScore, &keywordScore,
		&strengths, &weaknesses, &recommendations, &enhanced, &a.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query assessment: %w", err)
	}

	if keywordScore.Valid {
		score := int(keywordScore.Int64)
		a.KeywordMatchScore = &score
	}
	if err := json.Unmarshal(strengths, &a.Strengths); err != nil {
		return nil, fmt.Errorf("failed to decode strengths: %w", err)
	}
	if err := json.Unmarshal(weaknesses, &a.Weaknesses); err != nil {
		return nil, fmt.Errorf("failed to decode weaknesses: %w", err)
	}
	if err := json.Unmarshal(recommendations, &a.Recommendations); err != nil {
		return nil, fmt.Errorf("failed to decode recommendations: %w", err)
	}
	if err := json.Unmarshal(enhanced, &a.EnhancedRecommendations); err != nil {
		return nil, fmt.Errorf("failed to decode enhanced recommendations: %w", err)
	}

	return &a, nil
}

// DeleteForVariant removes all assessments for a CV variant (cascade when
// the variant is deleted by the CRUD layer).
func (s *AssessmentStore) DeleteForVariant(cvVariantID string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM cv_assessments WHERE cv_variant_id = ?`, cvVariantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete assessments: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}
