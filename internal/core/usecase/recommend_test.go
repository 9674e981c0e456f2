package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

type generatorFake struct {
	recs    []domain.SchemeRecommendation
	err     error
	gotText string
}

func (f *generatorFake) GenerateRecommendations(_ context.Context, _ domain.Claim, ocrText string) ([]domain.SchemeRecommendation, error) {
	f.gotText = ocrText
	return f.recs, f.err
}

var validClaim = domain.Claim{ID: "FRA001", Holder: "Ramesh Kumar", Village: "Khargone", Type: "IFR"}

func TestFallbackRecommendationsParse(t *testing.T) {
	recs, err := FallbackRecommendations()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "MGNREGA", recs[0].Name)
	assert.Equal(t, 85, recs[0].MatchScore)
	assert.Equal(t, "💼", recs[0].Icon)
	assert.Equal(t, "PM-KISAN", recs[1].Name)
	assert.Equal(t, "₹6,000/year", recs[1].Benefits)
	assert.Equal(t, 78, recs[1].MatchScore)
}

func TestRecommendUsesModelResult(t *testing.T) {
	gen := &generatorFake{recs: []domain.SchemeRecommendation{{ID: "x", Name: "Jal Jeevan Mission", MatchScore: 91}}}
	uc, err := NewRecommendUseCase(gen, zerolog.Nop())
	require.NoError(t, err)

	res, err := uc.Recommend(context.Background(), validClaim, "Village: Khargone")
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, gen.recs, res.Recommendations)
	assert.Equal(t, "Village: Khargone", gen.gotText)
}

func TestRecommendFallsBackOnModelFailure(t *testing.T) {
	uc, err := NewRecommendUseCase(&generatorFake{err: errors.New("HF API 503: loading")}, zerolog.Nop())
	require.NoError(t, err)

	res, err := uc.Recommend(context.Background(), validClaim, "")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, "HF API 503: loading", res.Reason)
	assert.Len(t, res.Recommendations, 2)

	res.Recommendations[0].Name = "mutated"
	again, _ := uc.Recommend(context.Background(), validClaim, "")
	assert.Equal(t, "MGNREGA", again.Recommendations[0].Name)
}

func TestRecommendWithoutModelServesFallback(t *testing.T) {
	uc, err := NewRecommendUseCase(nil, zerolog.Nop())
	require.NoError(t, err)

	res, err := uc.Recommend(context.Background(), validClaim, "")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, "recommendation model not configured", res.Reason)
}

func TestRecommendValidatesClaim(t *testing.T) {
	uc, err := NewRecommendUseCase(nil, zerolog.Nop())
	require.NoError(t, err)

	bad := validClaim
	bad.Type = "XYZ"
	_, err = uc.Recommend(context.Background(), bad, "")
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))

	bad = validClaim
	bad.Holder = ""
	_, err = uc.Recommend(context.Background(), bad, "")
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}
