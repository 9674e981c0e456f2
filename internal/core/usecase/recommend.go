package usecase

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
)

//go:embed fallback_recommendations.yaml
var fallbackRecommendationsYAML []byte

// FallbackRecommendations returns the static set served when the model
// cannot answer.
func FallbackRecommendations() ([]domain.SchemeRecommendation, error) {
	var recs []domain.SchemeRecommendation
	if err := yaml.Unmarshal(fallbackRecommendationsYAML, &recs); err != nil {
		return nil, fmt.Errorf("parse fallback recommendations: %w", err)
	}
	return recs, nil
}

type RecommendUseCase struct {
	generator ports.RecommendationGenerator
	fallback  []domain.SchemeRecommendation
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewRecommendUseCase accepts a nil generator; every request is then
// answered from the fallback set.
func NewRecommendUseCase(generator ports.RecommendationGenerator, logger zerolog.Logger) (*RecommendUseCase, error) {
	fallback, err := FallbackRecommendations()
	if err != nil {
		return nil, err
	}
	return &RecommendUseCase{
		generator: generator,
		fallback:  fallback,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}, nil
}

func (uc *RecommendUseCase) Recommend(ctx context.Context, claim domain.Claim, ocrText string) (domain.RecommendationResult, error) {
	if err := uc.validate.Struct(claim); err != nil {
		return domain.RecommendationResult{}, domain.WrapError(domain.ErrInvalidInput, "validate claim", err)
	}

	if uc.generator == nil {
		return uc.fallbackResult("recommendation model not configured"), nil
	}

	recs, err := uc.generator.GenerateRecommendations(ctx, claim, ocrText)
	if err != nil {
		if ctx.Err() != nil {
			return domain.RecommendationResult{}, ctx.Err()
		}
		uc.logger.Warn().Err(err).Str("claim_id", claim.ID).Msg("recommendation model failed, serving fallback")
		return uc.fallbackResult(err.Error()), nil
	}
	return domain.RecommendationResult{Recommendations: recs}, nil
}

func (uc *RecommendUseCase) fallbackResult(reason string) domain.RecommendationResult {
	recs := make([]domain.SchemeRecommendation, len(uc.fallback))
	copy(recs, uc.fallback)
	return domain.RecommendationResult{
		Recommendations: recs,
		Fallback:        true,
		Reason:          reason,
	}
}
