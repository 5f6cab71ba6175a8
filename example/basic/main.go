package main

import (
	"context"
	"fmt"
	"log"

	"github.com/siherrmann/pseudonymizer"
	"github.com/siherrmann/pseudonymizer/helper"
	"github.com/siherrmann/pseudonymizer/model"
)

const sampleContent = `Mr. Jean Dupont visited our Berlin office on Monday.
Jean Dupont and his colleague Marie Dubois presented the quarterly report.
Later, Dubois answered questions about the Acme GmbH partnership.
The next meeting takes place in Paris.`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
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

	// Unlock the store. The first Open initializes the key material.
	if err := p.Open("correct horse battery staple"); err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	// Set up the default detection stack (NER model + pattern fallbacks).
	// The model is downloaded on first use.
	if err := p.UseDefaultDetector(); err != nil {
		log.Fatalf("Failed to set up detector: %v", err)
	}

	doc := &model.Document{
		Title:   "Meeting Minutes",
		Source:  "basic_example",
		Content: sampleContent,
		Metadata: model.Metadata{
			"department": "sales",
		},
	}

	fmt.Println("Processing document...")
	result, err := p.ProcessDocument(context.Background(), doc)
	if err != nil {
		log.Fatalf("Failed to process document: %v", err)
	}

	fmt.Printf("\nFound %d entity groups (%d ambiguous)\n", len(result.Groups), result.AmbiguousGroups)
	fmt.Printf("New mappings: %d, reused mappings: %d\n", result.NewMappings, result.ReusedMappings)

	fmt.Println("\n--- Pseudonymized output ---")
	fmt.Println(result.Output)

	// The mapping store keeps the correspondence for later de-pseudonymization.
	records, err := p.ListEntities(nil)
	if err != nil {
		log.Fatalf("Failed to list entities: %v", err)
	}
	fmt.Println("\n--- Stored mappings ---")
	for _, record := range records {
		fmt.Printf("%-8s %s -> %s\n", record.Type, record.FullName, record.PseudonymFull)
	}

	// Every run leaves an audit trail.
	entries, err := p.ListOperations(5)
	if err != nil {
		log.Fatalf("Failed to list operations: %v", err)
	}
	fmt.Println("\n--- Operation log ---")
	for _, entry := range entries {
		fmt.Printf("%s  files=%d entities=%d detector=%s\n",
			entry.Type, entry.FilesProcessed, entry.EntityCount, entry.DetectorVersion)
	}

	fmt.Println("\nBasic example completed successfully!")
}
