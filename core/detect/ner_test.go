package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNERDetector(t *testing.T) {
	// Note: DefaultNERDetector uses hugot which requires downloading models
	// This test will download the distilbert-NER model if not already present
	t.Run("Create NER detector", func(t *testing.T) {
		detector, err := DefaultNERDetector()
		require.NoError(t, err)
		assert.NotNil(t, detector)
	})

	t.Run("Detect entities in text", func(t *testing.T) {
		detector, err := DefaultNERDetector()
		require.NoError(t, err)

		text := "My name is Wolfgang and I live in Berlin."
		detections, err := detector(text)
		assert.NoError(t, err)

		// Should detect at least Wolfgang (PERSON) and Berlin (LOCATION)
		if len(detections) > 0 {
			t.Logf("Detected %d entities:", len(detections))
			for _, detection := range detections {
				t.Logf("  - %s (%s) [%d:%d]", detection.Text, detection.Type, detection.Start, detection.End)
				assert.True(t, detection.ValidSpan(len(text)), "Expected a valid span")
				assert.NotNil(t, detection.Confidence, "Expected the model to report a confidence")
			}
		}
	})

	t.Run("Handle empty text", func(t *testing.T) {
		detector, err := DefaultNERDetector()
		require.NoError(t, err)

		detections, err := detector("")
		assert.NoError(t, err)
		assert.True(t, len(detections) == 0)
	})

	t.Run("Handle text without entities", func(t *testing.T) {
		detector, err := DefaultNERDetector()
		require.NoError(t, err)

		text := "this is a simple sentence without any named entities."
		detections, err := detector(text)
		assert.NoError(t, err)
		t.Logf("Detected %d entities (expected 0 or few)", len(detections))
	})
}

func TestMapEntityLabel(t *testing.T) {
	tests := []struct {
		label    string
		expected string
		ok       bool
	}{
		{"B-PER", "PERSON", true},
		{"I-PER", "PERSON", true},
		{"PER", "PERSON", true},
		{"B-LOC", "LOCATION", true},
		{"ORG", "ORG", true},
		{"B-MISC", "", false},
		{"MISC", "", false},
		{"O", "", false},
	}

	for _, test := range tests {
		entityType, ok := mapEntityLabel(test.label)
		assert.Equal(t, test.ok, ok, "label %s", test.label)
		assert.Equal(t, test.expected, string(entityType), "label %s", test.label)
	}
}
