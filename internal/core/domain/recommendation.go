package domain

type Claim struct {
	ID      string `json:"id" yaml:"id" validate:"required"`
	Holder  string `json:"holder" yaml:"holder" validate:"required"`
	Village string `json:"village" yaml:"village" validate:"required"`
	Type    string `json:"type" yaml:"type" validate:"required,oneof=IFR CR CFR"`
}

type SchemeRecommendation struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Benefits    string `json:"benefits" yaml:"benefits"`
	MatchScore  int    `json:"matchScore" yaml:"matchScore"`
	Category    string `json:"category" yaml:"category"`
	Icon        string `json:"icon" yaml:"icon"`
}

type RecommendationResult struct {
	Recommendations []SchemeRecommendation `json:"recommendations"`
	Fallback        bool                   `json:"fallback"`
	Reason          string                 `json:"reason,omitempty"`
}
