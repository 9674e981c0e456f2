package huggingface

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

const maxOCRSnippet = 2000

func buildRecommendationPrompt(claim domain.Claim, ocrText string) (string, error) {
	claimJSON, err := json.Marshal(claim)
	if err != nil {
		return "", fmt.Errorf("marshal claim: %w", err)
	}

	snippet := strings.TrimSpace(ocrText)
	if snippet == "" {
		snippet = "N/A"
	} else if runes := []rune(snippet); len(runes) > maxOCRSnippet {
		snippet = string(runes[:maxOCRSnippet])
	}

	return fmt.Sprintf(`You are a government schemes recommender. Return ONLY strict JSON matching this schema:
{
  "recommendations": [
    { "id": "string", "name": "string", "description": "string", "benefits": "string",
      "matchScore": 0-100, "category": "string", "icon": "string emoji" }
  ]
}

Context:
- Claim: %s
- OCR Extract (optional): %s

Rules:
- Output only JSON.
- 4 to 6 items.
- Set matchScore based on relevance to claim type and village context.`, claimJSON, snippet), nil
}
