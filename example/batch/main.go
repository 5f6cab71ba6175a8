package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/siherrmann/pseudonymizer"
	"github.com/siherrmann/pseudonymizer/helper"
	"github.com/siherrmann/pseudonymizer/model"
)

var sampleDocuments = []*model.Document{
	{
		Title: "Case 2024-017",
		Content: `Claimant Anna Schneider reported the incident in Hamburg.
Her statement was countersigned by Dr. Felix Brahms of Brahms & Partner AG.`,
	},
	{
		Title: "Case 2024-018",
		Content: `Anna Schneider appeared again, this time together with Peter Lorenz.
The hearing was moved from Hamburg to Hannover.`,
	},
	{
		Title: "Case 2024-019",
		Content: `Peter Lorenz withdrew his complaint against Brahms & Partner AG.
Ms. Schneider was informed by mail.`,
	},
}

func main() {
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	p, err := pseudonymizer.NewPseudonymizer(dbConfig)
	if err != nil {
		log.Fatalf("Failed to create pseudonymizer: %v", err)
	}
	defer p.Close()

	if err := p.Open("correct horse battery staple"); err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	if err := p.UseDefaultDetector(); err != nil {
		log.Fatalf("Failed to set up detector: %v", err)
	}

	// Report progress from a second goroutine while the batch runs.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				progress := p.BatchProgress()
				fmt.Printf("progress: %d/%d documents\n", progress.Completed, progress.Total)
			}
		}
	}()

	policy := model.BatchPolicy{Concurrency: 2, ContinueOnError: true}
	report, err := p.RunBatch(context.Background(), sampleDocuments, &policy)
	close(done)
	if err != nil {
		log.Fatalf("Batch failed: %v", err)
	}

	fmt.Printf("\nProcessed %d documents in %s (%d failed)\n",
		report.Processed, report.Duration.Round(time.Millisecond), report.Failed)
	fmt.Printf("Entities: %d, new mappings: %d, reused: %d\n",
		report.EntityCount, report.NewMappings, report.ReusedMappings)
	for _, batchErr := range report.Errors {
		fmt.Printf("failed: %s: %s\n", batchErr.Title, batchErr.Message)
	}

	// Anna Schneider appears in all three documents but gets exactly one
	// mapping, the batch reuses it across documents.
	records, err := p.ListEntities(&model.ListFilter{})
	if err != nil {
		log.Fatalf("Failed to list entities: %v", err)
	}
	fmt.Println("\n--- Stored mappings ---")
	for _, record := range records {
		fmt.Printf("%-8s %s -> %s\n", record.Type, record.FullName, record.PseudonymFull)
	}

	fmt.Println("\nBatch example completed successfully!")
}
