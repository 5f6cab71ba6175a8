package detect

import (
	"github.com/siherrmann/pseudonymizer/model"
)

// Version identifies the detector configuration in operation log entries.
const Version = "distilbert-NER+patterns-v1"

// DetectFunc scans text and returns raw detections. Implementations may
// overlap and disagree, the span merger resolves conflicts downstream.
type DetectFunc func(text string) ([]model.RawDetection, error)

// Compose combines multiple detectors into one. Outputs are concatenated
// in detector order, any detector error aborts the run.
func Compose(detectors ...DetectFunc) DetectFunc {
	return func(text string) ([]model.RawDetection, error) {
		var detections []model.RawDetection
		for _, detector := range detectors {
			result, err := detector(text)
			if err != nil {
				return nil, err
			}
			detections = append(detections, result...)
		}
		return detections, nil
	}
}
