package detect

import (
	"regexp"

	"github.com/siherrmann/pseudonymizer/model"
)

// pattern pairs a compiled regex with its entity type and a base confidence
// tier. Confidence reflects how specifically the pattern identifies the
// target type: title based patterns are most specific, generic capitalized
// word pairs the least.
type pattern struct {
	re         *regexp.Regexp
	entityType model.EntityType
	sourceID   string
	confidence float64
}

var patterns = []pattern{
	// Honorific followed by one or two capitalized words. The honorific is
	// part of the span so it can be preserved in the replacement.
	{
		re:         regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof|Professor|M|Mme|Mlle|Herr|Frau|Me)\.?\s+[A-ZÀ-Þ][a-zà-þ]+(?:[-\s][A-ZÀ-Þ][a-zà-þ]+)?`),
		entityType: model.EntityPerson,
		sourceID:   "pattern-title",
		confidence: 0.85,
	},
	// Company legal form suffixes.
	{
		re:         regexp.MustCompile(`\b[A-ZÀ-Þ][\wà-þ]+(?:\s+[A-ZÀ-Þ][\wà-þ]+)*\s+(?:GmbH|AG|SE|Inc\.?|Corp\.?|Ltd\.?|LLC|SARL|SAS|S\.A\.)`),
		entityType: model.EntityOrganization,
		sourceID:   "pattern-org-suffix",
		confidence: 0.8,
	},
	// Two adjacent capitalized words, the broad full name fallback.
	{
		re:         regexp.MustCompile(`\b[A-ZÀ-Þ][a-zà-þ]+(?:-[A-ZÀ-Þ][a-zà-þ]+)?\s+[A-ZÀ-Þ][a-zà-þ]+(?:-[A-ZÀ-Þ][a-zà-þ]+)?\b`),
		entityType: model.EntityPerson,
		sourceID:   "pattern-name-pair",
		confidence: 0.5,
	},
}

// DefaultPatternDetector creates the pattern based fallback detector. It
// catches titled names and organization suffixes the statistical detector
// tends to miss in noisy text.
func DefaultPatternDetector() DetectFunc {
	return func(text string) ([]model.RawDetection, error) {
		var detections []model.RawDetection
		for _, p := range patterns {
			for _, match := range p.re.FindAllStringIndex(text, -1) {
				confidence := p.confidence
				detections = append(detections, model.RawDetection{
					Text:        text[match[0]:match[1]],
					Type:        p.entityType,
					Start:       match[0],
					End:         match[1],
					Confidence:  &confidence,
					SourceID:    p.sourceID,
					SourceClass: model.DetectorPattern,
				})
			}
		}
		return detections, nil
	}
}
