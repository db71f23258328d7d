package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/wellis321/cv-app-sub000/internal/models"
)

// ErrMalformedOutput means the model output contained no parseable
// assessment. Nothing is persisted in that case.
var ErrMalformedOutput = errors.New("model output did not contain a parseable assessment")

// ValidationError means the output parsed but failed score/shape checks.
// Partial or garbage assessments are never persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "assessment validation failed: " + e.Reason
}

// Generated improvements under this length are treated as placeholders.
// Best-effort content filter, not a security boundary.
const minImprovementLength = 50

// placeholderPattern catches bracketed meta-references the models emit
// instead of actual content, e.g. "[Improved text based on your CV]".
var placeholderPattern = regexp.MustCompile(`(?i)\[[^\]]*(improv|rewrit|your (cv|resume)|insert|placeholder|example text|generated|based on)[^\]]*\]`)

// fencedBlockPattern strips markdown code fences the models love to add.
var fencedBlockPattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// AssessmentService turns raw provider output into validated, persisted
// CV quality assessments.
type AssessmentService struct {
	store *AssessmentStore
}

// NewAssessmentService creates a new assessment service
func NewAssessmentService(store *AssessmentStore) *AssessmentService {
	return &AssessmentService{store: store}
}

// rawAssessment is the shape we expect the model to produce. Scores come
// in as numbers because models are inconsistent about integer formatting.
type rawAssessment struct {
	OverallScore            *float64                   `json:"overall_score"`
	ATSScore                *float64                   `json:"ats_score"`
	ContentScore            *float64                   `json:"content_score"`
	FormattingScore         *float64                   `json:"formatting_score"`
	KeywordMatchScore       *float64                   `json:"keyword_match_score"`
	Strengths               []string                   `json:"strengths"`
	Weaknesses              []string                   `json:"weaknesses"`
	Recommendations         []string                   `json:"recommendations"`
	EnhancedRecommendations []rawEnhancedRecommendation `json:"enhanced_recommendations"`
}

type rawEnhancedRecommendation struct {
	Issue                  string   `json:"issue"`
	Suggestion             string   `json:"suggestion"`
	Examples               []string `json:"examples"`
	AIGeneratedImprovement string   `json:"ai_generated_improvement"`
	ImprovementType        string   `json:"improvement_type"`
}

// Process validates raw model output and persists it as a new immutable
// assessment row. hasJobDescription controls whether keyword_match_score
// is expected (its absence is never an error either way).
func (s *AssessmentService) Process(raw, cvVariantID, userID string, hasJobDescription bool) (*models.CVQualityAssessment, error) {
	parsed, err := parseAssessment(raw)
	if err != nil {
		log.Printf("⚠️ [ASSESSMENT] Unparseable output for variant %s: %v", cvVariantID, err)
		return nil, ErrMalformedOutput
	}

	assessment, err := buildAssessment(parsed, cvVariantID, userID)
	if err != nil {
		log.Printf("⚠️ [ASSESSMENT] Validation failed for variant %s: %v", cvVariantID, err)
		return nil, err
	}

	if hasJobDescription && assessment.KeywordMatchScore == nil {
		log.Printf("ℹ️ [ASSESSMENT] Job description supplied but model returned no keyword match score for variant %s", cvVariantID)
	}

	if err := s.store.Create(assessment); err != nil {
		return nil, err
	}

	log.Printf("✅ [ASSESSMENT] Created assessment %s for variant %s (overall %d)",
		assessment.ID, cvVariantID, assessment.OverallScore)
	return assessment, nil
}

// Latest returns the most recent assessment for (variant, requester).
func (s *AssessmentService) Latest(cvVariantID, userID string) (*models.CVQualityAssessment, error) {
	return s.store.Latest(cvVariantID, userID)
}

// DeleteForVariant removes all assessment history for a CV variant.
func (s *AssessmentService) DeleteForVariant(cvVariantID string) (int64, error) {
	return s.store.DeleteForVariant(cvVariantID)
}

// parseAssessment parses model output, falling back in order: direct
// parse, first balanced object span (markdown fences handled), JSON
// repair. Anything beyond that is malformed.
func parseAssessment(raw string) (*rawAssessment, error) {
	candidates := []string{strings.TrimSpace(raw)}

	if extracted := extractObjectSpan(raw); extracted != "" && extracted != candidates[0] {
		candidates = append(candidates, extracted)
	}

	var lastErr error
	for _, candidate := range candidates {
		var parsed rawAssessment
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			return &parsed, nil
		} else {
			lastErr = err
		}
	}

	// Last resort: the output may be almost-JSON (trailing commas,
	// single quotes). Repair and retry on the extracted span.
	span := candidates[len(candidates)-1]
	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return nil, fmt.Errorf("parse failed: %w", lastErr)
	}
	var parsed rawAssessment
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return nil, fmt.Errorf("parse failed after repair: %w", err)
	}
	return &parsed, nil
}

// extractObjectSpan finds the first balanced {...} span in free-form text,
// unwrapping a markdown code fence first if one is present.
func extractObjectSpan(content string) string {
	content = strings.TrimSpace(content)

	if matches := fencedBlockPattern.FindStringSubmatch(content); len(matches) > 1 {
		content = strings.TrimSpace(matches[1])
	}

	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	return content[start:]
}

// buildAssessment validates scores and shapes, applies the placeholder
// filter, and assembles the persistable record.
func buildAssessment(parsed *rawAssessment, cvVariantID, userID string) (*models.CVQualityAssessment, error) {
	overall, err := requireScore("overall_score", parsed.OverallScore)
	if err != nil {
		return nil, err
	}
	ats, err := requireScore("ats_score", parsed.ATSScore)
	if err != nil {
		return nil, err
	}
	content, err := requireScore("content_score", parsed.ContentScore)
	if err != nil {
		return nil, err
	}
	formatting, err := requireScore("formatting_score", parsed.FormattingScore)
	if err != nil {
		return nil, err
	}

	assessment := &models.CVQualityAssessment{
		ID:              uuid.NewString(),
		CVVariantID:     cvVariantID,
		UserID:          userID,
		OverallScore:    overall,
		ATSScore:        ats,
		ContentScore:    content,
		FormattingScore: formatting,
		Strengths:       nonNil(parsed.Strengths),
		Weaknesses:      nonNil(parsed.Weaknesses),
		Recommendations: nonNil(parsed.Recommendations),
		CreatedAt:       time.Now(),
	}

	// keyword_match_score is optional; when present it still has to be valid
	if parsed.KeywordMatchScore != nil {
		keyword, err := requireScore("keyword_match_score", parsed.KeywordMatchScore)
		if err != nil {
			return nil, err
		}
		assessment.KeywordMatchScore = &keyword
	}

	assessment.EnhancedRecommendations = make([]models.EnhancedRecommendation, 0, len(parsed.EnhancedRecommendations))
	for _, rec := range parsed.EnhancedRecommendations {
		enhanced := models.EnhancedRecommendation{
			Issue:           rec.Issue,
			Suggestion:      rec.Suggestion,
			Examples:        nonNil(rec.Examples),
			ImprovementType: rec.ImprovementType,
		}
		if IsPlaceholderImprovement(rec.AIGeneratedImprovement) {
			// Suppress only the generated text; issue and suggestion stay
			enhanced.AIGeneratedImprovement = ""
			enhanced.CanApply = false
		} else {
			enhanced.AIGeneratedImprovement = rec.AIGeneratedImprovement
			enhanced.CanApply = true
		}
		assessment.EnhancedRecommendations = append(assessment.EnhancedRecommendations, enhanced)
	}

	return assessment, nil
}

// IsPlaceholderImprovement reports whether a generated improvement looks
// like degenerate model output: empty, too short, or a bracketed
// meta-reference instead of actual content.
func IsPlaceholderImprovement(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minImprovementLength {
		return true
	}
	return placeholderPattern.MatchString(trimmed)
}

func requireScore(name string, value *float64) (int, error) {
	if value == nil {
		return 0, &ValidationError{Reason: fmt.Sprintf("missing %s", name)}
	}
	score := int(math.Round(*value))
	if score < 0 || score > 100 {
		return 0, &ValidationError{Reason: fmt.Sprintf("%s out of range: %d", name, score)}
	}
	return score, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
