package merge

import (
	"log/slog"
	"sort"

	"github.com/siherrmann/pseudonymizer/model"
)

// defaultPatternConfidence is assigned to pattern detections that carry no
// confidence of their own. Statistical detections without a confidence stay
// unset.
const defaultPatternConfidence = 0.5

// Merge deduplicates raw detections from heterogeneous sources into one
// entity list for a single document. Overlaps of the same type are resolved
// in favor of the higher priority detector class, a pattern span that is
// not a subset of the statistical span is kept alongside it and flagged.
// Cross type overlaps are always kept and flagged. Malformed spans are
// dropped with a warning and never abort the merge.
func Merge(detections []model.RawDetection, docLen int, logger *slog.Logger) []model.ResolvedEntity {
	if logger == nil {
		logger = slog.Default()
	}

	candidates := make([]model.RawDetection, 0, len(detections))
	for _, detection := range detections {
		if !detection.ValidSpan(docLen) {
			logger.Warn("Dropping malformed detection span",
				slog.String("source", detection.SourceID),
				slog.Int("start", detection.Start),
				slog.Int("end", detection.End))
			continue
		}
		if detection.Confidence == nil && detection.SourceClass == model.DetectorPattern {
			confidence := defaultPatternConfidence
			detection.Confidence = &confidence
		}
		candidates = append(candidates, detection)
	}

	// Sort by (start, -length) so containers come before their subsets.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End > candidates[j].End
	})

	var kept []model.ResolvedEntity
	for _, candidate := range candidates {
		entity := model.ResolvedEntity{
			RawDetection:  candidate,
			WinningSource: candidate.SourceID,
		}

		keepCandidate := true
		for i := range kept {
			if !kept[i].Overlaps(entity) {
				continue
			}

			if kept[i].Type != entity.Type {
				// Cross type overlaps are retained separately for review.
				kept[i].AmbiguousOverlap = true
				entity.AmbiguousOverlap = true
				continue
			}

			replace, ambiguous := resolveSameType(&kept[i], &entity)
			if ambiguous {
				kept[i].AmbiguousOverlap = true
				entity.AmbiguousOverlap = true
				continue
			}
			if replace {
				kept[i] = entity
			}
			keepCandidate = false
			break
		}

		if keepCandidate {
			kept = append(kept, entity)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Start < kept[j].Start
	})

	return kept
}

// resolveSameType decides what happens when a candidate overlaps an already
// kept span of the same type. Either the candidate replaces the kept span,
// the candidate is dropped, or both stay and get flagged as ambiguous.
func resolveSameType(kept, candidate *model.ResolvedEntity) (replace bool, ambiguous bool) {
	keptPriority := kept.SourceClass.Priority()
	candidatePriority := candidate.SourceClass.Priority()

	if keptPriority > candidatePriority {
		// Statistical span already kept, the pattern span loses when it
		// adds nothing beyond the statistical span.
		if kept.Contains(*candidate) {
			return false, false
		}
		return false, true
	}
	if candidatePriority > keptPriority {
		if candidate.Contains(*kept) {
			return true, false
		}
		return false, true
	}

	// Same priority: the sorted-first span wins over its subsets, partial
	// overlaps keep both for review.
	if kept.Contains(*candidate) {
		return false, false
	}
	if candidate.Contains(*kept) {
		return true, false
	}
	return false, true
}
