package pseudonymizer

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/pseudonymizer/core/detect"
	"github.com/siherrmann/pseudonymizer/database"
	"github.com/siherrmann/pseudonymizer/helper"
	"github.com/siherrmann/pseudonymizer/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPseudonymizer(t *testing.T) {
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err)

	t.Run("Valid call NewPseudonymizer", func(t *testing.T) {
		p, err := NewPseudonymizer(dbConfig)
		require.NoError(t, err, "Expected NewPseudonymizer to not return an error")
		require.NotNil(t, p, "Expected NewPseudonymizer to return a non-nil instance")
		assert.NotNil(t, p.Store, "Expected pseudonymizer to have a store")

		err = p.Open(rootPassphrase)
		require.NoError(t, err, "Expected Open to not return an error")
		assert.Equal(t, database.StateOpen, p.Store.State())

		err = p.Open(rootPassphrase)
		assert.NoError(t, err, "Expected a second Open to be a no-op")

		err = p.Close()
		assert.NoError(t, err, "Expected Close to not return an error")

		_, err = p.ListEntities(nil)
		assert.ErrorIs(t, err, database.ErrClosed, "Expected reads after Close to fail")
	})

	t.Run("Processing without a detector fails", func(t *testing.T) {
		p, err := NewPseudonymizer(dbConfig)
		require.NoError(t, err)
		require.NoError(t, p.Open(rootPassphrase))
		t.Cleanup(func() { p.Close() })

		_, err = p.ProcessDocument(context.Background(), &model.Document{Title: "no detector", Content: "Some text."})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "detector not set")
	})
}

func TestProcessDocument(t *testing.T) {
	p := initPseudonymizer(t, map[string]model.EntityType{
		"Greta Sommer": model.EntityPerson,
		"Jonas Wolf":   model.EntityPerson,
		"Lübeck":       model.EntityLocation,
		"Acme GmbH":    model.EntityOrganization,
	})

	document := &model.Document{
		Title:   "field report",
		Content: "Greta Sommer met Jonas Wolf in Lübeck. Greta Sommer works at Acme GmbH.",
	}

	result, err := p.ProcessDocument(context.Background(), document)
	require.NoError(t, err, "Expected ProcessDocument to not return an error")
	require.NotNil(t, result)

	t.Run("All entities are pseudonymized", func(t *testing.T) {
		assert.Equal(t, 4, result.NewMappings, "Expected one new mapping per unique entity")
		assert.Equal(t, 0, result.ReusedMappings)
		assert.Len(t, result.Replacements, 5, "Expected one replacement per occurrence")
		assert.False(t, result.Reprocessed)
		assert.NotContains(t, result.Output, "Greta Sommer")
		assert.NotContains(t, result.Output, "Jonas Wolf")
		assert.NotContains(t, result.Output, "Lübeck")
		assert.NotContains(t, result.Output, "Acme GmbH")
		assert.Contains(t, result.Output, "met", "Expected non-entity text to survive")
	})

	t.Run("Groups come back in review order", func(t *testing.T) {
		require.Len(t, result.Groups, 4)
		ranks := make([]int, 0, len(result.Groups))
		for _, group := range result.Groups {
			ranks = append(ranks, group.Type.ReviewRank())
		}
		assert.IsNonDecreasing(t, ranks, "Expected persons before organizations before locations")
	})

	t.Run("Repeated occurrences get the same pseudonym", func(t *testing.T) {
		first := strings.Split(result.Output, ".")[0]
		second := strings.Split(result.Output, ".")[1]
		for _, group := range result.Groups {
			if group.Text == "Greta Sommer" {
				// Both sentences mention her, both must carry the same name.
				assert.Equal(t, strings.Fields(first)[0], strings.Fields(second)[0])
			}
		}
	})

	t.Run("Reprocessing the same content reuses everything", func(t *testing.T) {
		again, err := p.ProcessDocument(context.Background(), &model.Document{
			Title:   "field report copy",
			Content: document.Content,
		})
		require.NoError(t, err)
		assert.True(t, again.Reprocessed, "Expected the content hash to be recognized")
		assert.Equal(t, 0, again.NewMappings)
		assert.Equal(t, 4, again.ReusedMappings)
		assert.Equal(t, result.Output, again.Output, "Expected deterministic output across runs")
	})

	t.Run("Operation log records the run", func(t *testing.T) {
		entries, err := p.ListOperations(5)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		newest := entries[0]
		assert.Equal(t, model.OperationProcess, newest.Type)
		assert.Equal(t, 1, newest.FilesProcessed)
		assert.Equal(t, detect.Version, newest.DetectorVersion)
		assert.Equal(t, "nordic", newest.Theme)
	})
}

func TestCompositionalConsistency(t *testing.T) {
	p := initPseudonymizer(t, map[string]model.EntityType{
		"Marie Dubois": model.EntityPerson,
		"Marie Winter": model.EntityPerson,
	})

	result, err := p.ProcessDocument(context.Background(), &model.Document{
		Title:   "two maries",
		Content: "Marie Dubois wrote to Marie Winter.",
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.NewMappings)

	records, err := p.ListEntities(&model.ListFilter{})
	require.NoError(t, err)

	var dubois, winter *model.MappingRecord
	for _, record := range records {
		switch record.FullName {
		case "Marie Dubois":
			dubois = record
		case "Marie Winter":
			winter = record
		}
	}
	require.NotNil(t, dubois, "Expected a mapping for Marie Dubois")
	require.NotNil(t, winter, "Expected a mapping for Marie Winter")

	assert.Equal(t, dubois.PseudonymFirst, winter.PseudonymFirst, "Expected the shared first name to share its pseudonym component")
	assert.NotEqual(t, dubois.PseudonymLast, winter.PseudonymLast, "Expected distinct last names to get distinct pseudonym components")
	assert.NotEqual(t, dubois.PseudonymFull, winter.PseudonymFull)
}

func TestAmbiguousSurname(t *testing.T) {
	lexicon := map[string]model.EntityType{
		"Ida Krause": model.EntityPerson,
		"Tom Krause": model.EntityPerson,
		"Krause":     model.EntityPerson,
	}
	p := initPseudonymizer(t, lexicon)
	content := "Ida Krause and Tom Krause met. Krause left early."

	t.Run("Undecided ambiguous surname stays unreplaced", func(t *testing.T) {
		result, err := p.ProcessDocument(context.Background(), &model.Document{
			Title:   "meeting notes",
			Content: content,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.AmbiguousGroups, "Expected the bare surname to need a decision")
		assert.NotContains(t, result.Output, "Ida Krause")
		assert.Contains(t, result.Output, "Krause left early", "Expected the undecided occurrence to survive")
	})

	t.Run("Shared surname shares its pseudonym component", func(t *testing.T) {
		records, err := p.ListEntities(nil)
		require.NoError(t, err)
		var ida, tom *model.MappingRecord
		for _, record := range records {
			switch record.FullName {
			case "Ida Krause":
				ida = record
			case "Tom Krause":
				tom = record
			}
		}
		require.NotNil(t, ida)
		require.NotNil(t, tom)
		assert.Equal(t, ida.PseudonymLast, tom.PseudonymLast)
		assert.NotEqual(t, ida.PseudonymFirst, tom.PseudonymFirst)
	})

	t.Run("Attach decision resolves the surname", func(t *testing.T) {
		document := &model.Document{Title: "meeting notes reviewed", Content: content}
		groups, err := p.Analyze(context.Background(), document)
		require.NoError(t, err)

		s := p.StartValidationSession(groups)
		decided := false
		for _, group := range s.Groups() {
			if group.Ambiguous {
				err := s.Decide(group.RID, model.UserDecision{
					Action:           model.DecisionAttach,
					AttachToFullName: "Ida Krause",
				})
				require.NoError(t, err)
				decided = true
			}
		}
		require.True(t, decided, "Expected an ambiguous group to decide on")

		result, err := p.FinalizeSession(context.Background(), document, s)
		require.NoError(t, err)
		assert.Equal(t, 0, result.AmbiguousGroups)
		assert.NotContains(t, result.Output, "Krause")

		records, err := p.ListEntities(nil)
		require.NoError(t, err)
		for _, record := range records {
			if record.FullName == "Ida Krause" {
				assert.Contains(t, result.Output, record.PseudonymLast+" left early")
			}
		}

		entries, err := p.ListOperations(1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 1, entries[0].UserModifications)
	})
}

func TestValidationSessionReject(t *testing.T) {
	p := initPseudonymizer(t, map[string]model.EntityType{
		"Nora Feld": model.EntityPerson,
		"Bremen":    model.EntityLocation,
	})
	document := &model.Document{Title: "travel log", Content: "Nora Feld visited Bremen."}

	groups, err := p.Analyze(context.Background(), document)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	s := p.StartValidationSession(groups)
	for _, group := range s.Groups() {
		if group.Type == model.EntityPerson {
			require.NoError(t, s.Decide(group.RID, model.UserDecision{Action: model.DecisionReject}))
		}
	}

	result, err := p.FinalizeSession(context.Background(), document, s)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "Nora Feld", "Expected the rejected group to stay untouched")
	assert.NotContains(t, result.Output, "Bremen")
	assert.Equal(t, 1, result.NewMappings, "Expected a mapping only for the accepted group")
}

func TestRunBatch(t *testing.T) {
	p := initPseudonymizer(t, map[string]model.EntityType{
		"Lena Vogel":  model.EntityPerson,
		"Omar Haddad": model.EntityPerson,
		"Kassel":      model.EntityLocation,
	})

	documents := []*model.Document{
		{Title: "batch-a", Content: "Lena Vogel stayed in Kassel."},
		{Title: "batch-b", Content: "Lena Vogel met Omar Haddad."},
		{Title: "batch-c", Content: "Omar Haddad toured Kassel."},
	}

	report, err := p.RunBatch(context.Background(), documents, nil)
	require.NoError(t, err, "Expected RunBatch to not return an error")

	t.Run("Report aggregates the run", func(t *testing.T) {
		assert.Equal(t, 3, report.Processed)
		assert.Equal(t, 0, report.Failed)
		assert.Equal(t, 6, report.EntityCount)
		assert.Equal(t, 3, report.NewMappings, "Expected each unique entity to be created once")
		assert.Equal(t, 3, report.ReusedMappings, "Expected repeat appearances to reuse mappings")
		assert.False(t, report.Cancelled)
	})

	t.Run("Progress matches the final report", func(t *testing.T) {
		progress := p.BatchProgress()
		assert.Equal(t, int64(3), progress.Total)
		assert.Equal(t, int64(3), progress.Completed)
		assert.Equal(t, int64(0), progress.Failed)
	})

	t.Run("A BATCH summary entry follows the per document entries", func(t *testing.T) {
		entries, err := p.ListOperations(5)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		assert.Equal(t, model.OperationBatch, entries[0].Type)
		assert.Equal(t, 3, entries[0].FilesProcessed)
		assert.Equal(t, 6, entries[0].EntityCount)
		processEntries := 0
		for _, entry := range entries[1:] {
			if entry.Type == model.OperationProcess {
				processEntries++
			}
		}
		assert.GreaterOrEqual(t, processEntries, 3)
	})
}

func TestDeleteEntity(t *testing.T) {
	p := initPseudonymizer(t, map[string]model.EntityType{
		"Rolf Brandt": model.EntityPerson,
		"Erfurt":      model.EntityLocation,
	})

	_, err := p.ProcessDocument(context.Background(), &model.Document{
		Title:   "erasure case",
		Content: "Rolf Brandt visited Erfurt.",
	})
	require.NoError(t, err)

	records, err := p.ListEntities(nil)
	require.NoError(t, err)
	var target *model.MappingRecord
	for _, record := range records {
		if record.FullName == "Rolf Brandt" {
			target = record
		}
	}
	require.NotNil(t, target, "Expected a mapping for Rolf Brandt")

	t.Run("Valid call DeleteEntity", func(t *testing.T) {
		err := p.DeleteEntity(context.Background(), target.RID, "data subject request")
		require.NoError(t, err)

		records, err := p.ListEntities(nil)
		require.NoError(t, err)
		for _, record := range records {
			assert.NotEqual(t, target.RID, record.RID, "Expected the erased mapping to be gone")
		}

		entries, err := p.ListOperations(1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, model.OperationErasure, entries[0].Type)
	})

	t.Run("DeleteEntity with unknown RID fails", func(t *testing.T) {
		err := p.DeleteEntity(context.Background(), uuid.New(), "data subject request")
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestStats(t *testing.T) {
	p := initPseudonymizer(t, map[string]model.EntityType{
		"Vera Lang": model.EntityPerson,
	})

	before, err := p.Stats()
	require.NoError(t, err)

	_, err = p.ProcessDocument(context.Background(), &model.Document{
		Title:   "stats case",
		Content: "Vera Lang signed the form.",
	})
	require.NoError(t, err)

	after, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.Mappings+1, after.Mappings)
	assert.Equal(t, before.PersonMappings+1, after.PersonMappings)
	assert.Equal(t, before.Documents+1, after.Documents)
	assert.Greater(t, after.Operations, before.Operations)
}

func TestDestroyStore(t *testing.T) {
	// Destroy drops shared tables, so this test gets its own container.
	teardown, port, err := helper.MustStartPostgresContainer()
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		require.NoError(t, teardown(context.Background()))
	})

	helper.SetTestDatabaseConfigEnvs(t, port)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err)

	p, err := NewPseudonymizer(dbConfig)
	require.NoError(t, err)
	require.NoError(t, p.Open("destroy-test-passphrase"))
	p.SetDetector(stubDetector(map[string]model.EntityType{"Udo Stein": model.EntityPerson}))
	t.Cleanup(func() { p.Close() })

	_, err = p.ProcessDocument(context.Background(), &model.Document{
		Title:   "doomed",
		Content: "Udo Stein was here.",
	})
	require.NoError(t, err)

	err = p.DestroyStore(context.Background())
	require.NoError(t, err, "Expected DestroyStore to not return an error")

	_, err = p.ListEntities(nil)
	assert.ErrorIs(t, err, database.ErrClosed, "Expected the store to be closed after destruction")
}

func TestApplyReplacements(t *testing.T) {
	t.Run("Replaces back to front", func(t *testing.T) {
		content := "Anna met Bert."
		out := applyReplacements(content, []model.Replacement{
			{Start: 0, End: 4, Original: "Anna", Pseudonym: "Freya"},
			{Start: 9, End: 13, Original: "Bert", Pseudonym: "Olaf"},
		})
		assert.Equal(t, "Freya met Olaf.", out)
	})

	t.Run("Overlapping replacements keep the later span", func(t *testing.T) {
		content := "Anna Berg spoke."
		out := applyReplacements(content, []model.Replacement{
			{Start: 0, End: 9, Original: "Anna Berg", Pseudonym: "Freya Dahl"},
			{Start: 5, End: 9, Original: "Berg", Pseudonym: "Dahl"},
		})
		assert.Equal(t, "Anna Dahl spoke.", out, "Expected the overlapped span to be skipped")
	})

	t.Run("Out of range spans are ignored", func(t *testing.T) {
		content := "short"
		out := applyReplacements(content, []model.Replacement{
			{Start: 2, End: 99, Pseudonym: "x"},
			{Start: -1, End: 3, Pseudonym: "y"},
		})
		assert.Equal(t, "short", out)
	})

	t.Run("No replacements returns the content unchanged", func(t *testing.T) {
		assert.Equal(t, "unchanged", applyReplacements("unchanged", nil))
	})
}
