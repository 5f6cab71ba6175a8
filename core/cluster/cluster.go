package cluster

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/siherrmann/pseudonymizer/model"
)

// Cluster groups resolved entities into review units. Entities with the
// same normalized text (honorifics stripped) and type always share a group.
// Bare PERSON surname groups are attached to a full name group when exactly
// one full name in the document ends in that surname, otherwise they stay
// their own ambiguous group. Clustering never fails, in the worst case it
// degrades to one group per exact text match.
func Cluster(entities []model.ResolvedEntity) []*model.EntityGroup {
	groups := exactGroups(entities)
	if len(groups) == 0 {
		return nil
	}

	attachBareSurnames(groups)

	merged := make([]*model.EntityGroup, 0, len(groups))
	for _, group := range groups {
		if group != nil {
			merged = append(merged, group)
		}
	}

	// Stable review order: PERSON, then ORG, then LOCATION, within type by
	// first occurrence.
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Type != merged[j].Type {
			return merged[i].Type.ReviewRank() < merged[j].Type.ReviewRank()
		}
		return merged[i].FirstOccurrence() < merged[j].FirstOccurrence()
	})

	return merged
}

// exactGroups builds one group per (normalized text, type) pair.
func exactGroups(entities []model.ResolvedEntity) []*model.EntityGroup {
	var groups []*model.EntityGroup
	index := map[string]int{}

	for _, entity := range entities {
		normalized, gender := model.StripHonorific(model.NormalizeName(entity.Text))
		if normalized == "" {
			continue
		}
		key := fmt.Sprintf("%s|%s", normalized, entity.Type)

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, &model.EntityGroup{
				RID:            uuid.New(),
				Key:            key,
				Type:           entity.Type,
				Text:           entity.Text,
				NormalizedText: normalized,
			})
		}

		group := groups[i]
		group.Occurrences = append(group.Occurrences, entity)
		if len(entity.Text) > len(group.Text) {
			group.Text = entity.Text
		}
		if group.GenderHint == nil && gender != nil {
			group.GenderHint = gender
		}
	}

	return groups
}

// attachBareSurnames merges bare surname PERSON groups into the unique full
// name group sharing that surname. The union predicate refuses to bridge
// two distinct full names, so a surname shared by several people can never
// chain them together. Merged sources are nilled out in place.
func attachBareSurnames(groups []*model.EntityGroup) {
	fullNameIdx := map[int]bool{}
	bySurname := map[string][]int{}

	for i, group := range groups {
		if group.Type != model.EntityPerson {
			continue
		}
		parts := model.SplitName(group.NormalizedText)
		if parts.IsFullName() {
			fullNameIdx[i] = true
			bySurname[parts.Last] = append(bySurname[parts.Last], i)
		}
	}

	uf := NewUnionFind[int](func(a, b int) bool {
		// Never bridge two independent full name groups.
		return !(fullNameIdx[a] && fullNameIdx[b])
	})
	for i := range groups {
		uf.Add(i)
	}

	for i, group := range groups {
		if group.Type != model.EntityPerson || fullNameIdx[i] {
			continue
		}
		parts := model.SplitName(group.NormalizedText)
		if parts.First != "" || parts.Last == "" {
			continue
		}

		candidates := bySurname[parts.Last]
		switch len(candidates) {
		case 0:
			// Standalone component without context, the assigner surfaces it.
		case 1:
			uf.Union(candidates[0], i)
		default:
			// Several distinct people share the surname, auto merging into
			// either would be a wrong re-identification.
			group.Ambiguous = true
		}
	}

	// Fold members into their full name representative.
	for root, members := range uf.Sets() {
		if len(members) < 2 {
			continue
		}

		target := root
		for _, member := range members {
			if fullNameIdx[member] {
				target = member
			}
		}

		for _, member := range members {
			if member == target {
				continue
			}
			groups[target].Occurrences = append(groups[target].Occurrences, groups[member].Occurrences...)
			if groups[target].GenderHint == nil {
				groups[target].GenderHint = groups[member].GenderHint
			}
			groups[member] = nil
		}
	}
}
