// Package pattern derives labelled entities from recognized text with
// ordered "<label> : <value>" rules.
package pattern

import (
	"regexp"
	"strings"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// DefaultConfidence is attached to every extracted entity. It is a constant,
// not a statistical estimate.
const DefaultConfidence = 0.9

// Rule maps one or more labels to an entity type. Labels are tried in order
// and the first one with a non-blank value wins.
type Rule struct {
	Type   domain.EntityType
	Labels []string
}

// DefaultRules is the ordered rule set; output follows this order.
var DefaultRules = []Rule{
	{Type: domain.EntityPerson, Labels: []string{"Applicant Name", "Name"}},
	{Type: domain.EntityLocation, Labels: []string{"Village"}},
	{Type: domain.EntityLocation, Labels: []string{"District"}},
	{Type: domain.EntityState, Labels: []string{"State"}},
	{Type: domain.EntityArea, Labels: []string{"Area"}},
	{Type: domain.EntityCoordinates, Labels: []string{"Coordinates"}},
}

type compiledRule struct {
	entityType domain.EntityType
	patterns   []*regexp.Regexp
}

type Extractor struct {
	rules []compiledRule
}

func NewExtractor() *Extractor {
	return NewExtractorWithRules(DefaultRules)
}

func NewExtractorWithRules(rules []Rule) *Extractor {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		cr := compiledRule{entityType: rule.Type}
		for _, label := range rule.Labels {
			cr.patterns = append(cr.patterns, labelPattern(label))
		}
		compiled = append(compiled, cr)
	}
	return &Extractor{rules: compiled}
}

// labelPattern matches "<label> : <value>" within a single line. The value
// may be empty so that the first occurrence of the label always decides.
func labelPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `[ \t]*:[ \t]*([^\r\n]*)`)
}

func (e *Extractor) Extract(text string) []domain.Entity {
	entities := []domain.Entity{}
	for _, rule := range e.rules {
		value, ok := pick(text, rule.patterns)
		if !ok {
			continue
		}
		entities = append(entities, domain.Entity{
			Type:       rule.entityType,
			Value:      value,
			Confidence: DefaultConfidence,
		})
	}
	return entities
}

func pick(text string, patterns []*regexp.Regexp) (string, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if value := strings.TrimSpace(m[1]); value != "" {
			return value, true
		}
	}
	return "", false
}
