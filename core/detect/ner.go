package detect

import (
	"fmt"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/siherrmann/pseudonymizer/helper"
	"github.com/siherrmann/pseudonymizer/model"
)

// nerSourceID identifies the statistical detector in merge decisions.
const nerSourceID = "distilbert-NER"

// DefaultNERDetector creates the statistical detector using a NER model
// Uses distilbert-NER for named entity recognition
// Detects: PERSON, ORGANIZATION, LOCATION entities (MISC is dropped)
func DefaultNERDetector() (DetectFunc, error) {
	// Prepare model (download if needed)
	// Using KnightsAnalytics optimized distilbert-NER model
	modelName := "KnightsAnalytics/distilbert-NER"
	modelPath, err := helper.PrepareModel(modelName, "model.onnx")
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	// Create token classification pipeline for NER
	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "ner-pipeline",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}), // Ignore non-entity tokens
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create NER pipeline: %w", err)
	}

	return func(text string) ([]model.RawDetection, error) {
		result, err := nerPipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to run NER: %w", err)
		}

		if len(result.Entities) == 0 {
			return nil, nil
		}

		var detections []model.RawDetection
		for _, entity := range result.Entities[0] {
			entityType, ok := mapEntityLabel(entity.Entity)
			if !ok {
				continue
			}

			confidence := float64(entity.Score)
			detections = append(detections, model.RawDetection{
				Text:        strings.TrimSpace(entity.Word),
				Type:        entityType,
				Start:       int(entity.Start),
				End:         int(entity.End),
				Confidence:  &confidence,
				SourceID:    nerSourceID,
				SourceClass: model.DetectorStatistical,
			})
		}

		return detections, nil
	}, nil
}

// mapEntityLabel maps NER labels (with or without BIO prefixes) to entity
// types. Labels without a mapping, MISC in particular, are dropped.
func mapEntityLabel(label string) (model.EntityType, bool) {
	// Remove BIO tagging prefixes (B- for beginning, I- for inside)
	label = strings.TrimPrefix(label, "B-")
	label = strings.TrimPrefix(label, "I-")

	switch label {
	case "PER", "PERSON":
		return model.EntityPerson, true
	case "LOC", "LOCATION":
		return model.EntityLocation, true
	case "ORG", "ORGANIZATION":
		return model.EntityOrganization, true
	}
	return "", false
}
