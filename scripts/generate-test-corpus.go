//go:build ignore

// Package main generates a synthetic document corpus for benchmarking.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// Word pools for generating plausible prose.
var (
	topics = []string{
		"budget", "roadmap", "onboarding", "quarterly review", "migration",
		"incident report", "meeting notes", "travel itinerary", "inventory",
		"release plan", "customer survey", "hiring plan", "retrospective",
		"maintenance schedule", "compliance audit", "vendor comparison",
		"research summary", "design brief", "status update", "project charter",
	}
	subjects = []string{
		"the engineering team", "the finance department", "our largest customer",
		"the infrastructure project", "next quarter", "the annual offsite",
		"the new warehouse", "the mobile application", "the support queue",
		"the data pipeline", "the regional office", "the product launch",
	}
	verbs = []string{
		"reviewed", "approved", "postponed", "escalated", "completed",
		"documented", "estimated", "scheduled", "audited", "consolidated",
		"migrated", "archived", "prioritized", "drafted", "presented",
	}
	objects = []string{
		"the proposal", "three outstanding invoices", "the deployment checklist",
		"all open action items", "the vendor contracts", "the incident timeline",
		"the capacity forecast", "the training materials", "the expense report",
		"the risk register", "the backlog", "the customer feedback",
	}
	closers = []string{
		"Follow-up is scheduled for next week.",
		"No blockers were identified.",
		"Two items remain open pending budget approval.",
		"The decision was deferred to the steering committee.",
		"Results will be shared in the monthly summary.",
		"A detailed breakdown is attached below.",
	}
	csvItems = []string{
		"laptop", "monitor", "desk", "chair", "projector", "whiteboard",
		"keyboard", "headset", "dock", "cable", "printer", "router",
	}
	csvRegions = []string{"north", "south", "east", "west", "central"}
)

func sentence(r *rand.Rand) string {
	s := fmt.Sprintf("%s %s %s.",
		strings.Title(subjects[r.Intn(len(subjects))]),
		verbs[r.Intn(len(verbs))],
		objects[r.Intn(len(objects))])
	return s
}

func paragraph(r *rand.Rand) string {
	n := 3 + r.Intn(4)
	parts := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		parts = append(parts, sentence(r))
	}
	parts = append(parts, closers[r.Intn(len(closers))])
	return strings.Join(parts, " ")
}

func writeText(path, topic string, r *rand.Rand) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", strings.Title(topic))
	n := 2 + r.Intn(4)
	for i := 0; i < n; i++ {
		b.WriteString(paragraph(r))
		b.WriteString("\n\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeMarkdown(path, topic string, r *rand.Rand) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", strings.Title(topic))
	fmt.Fprintf(&b, "%s\n\n", paragraph(r))
	b.WriteString("## Discussion\n\n")
	fmt.Fprintf(&b, "%s\n\n", paragraph(r))
	b.WriteString("## Action items\n\n")
	n := 2 + r.Intn(4)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "- %s\n", sentence(r))
	}
	b.WriteString("\n## Decisions\n\n")
	fmt.Fprintf(&b, "%s\n", paragraph(r))
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeCSV(path string, r *rand.Rand) error {
	var b strings.Builder
	b.WriteString("item,region,quantity,unit_price,updated\n")
	n := 10 + r.Intn(40)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s,%s,%d,%.2f,%s\n",
			csvItems[r.Intn(len(csvItems))],
			csvRegions[r.Intn(len(csvRegions))],
			1+r.Intn(200),
			5+r.Float64()*995,
			base.AddDate(0, 0, r.Intn(365)).Format("2006-01-02"))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func main() {
	flag.Parse()
	r := rand.New(rand.NewSource(*seed))

	dirs := []string{"notes", "reports", "data", "archive"}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(*outputDir, d), 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "mkdir:", err)
			os.Exit(1)
		}
	}

	for i := 0; i < *numFiles; i++ {
		topic := topics[r.Intn(len(topics))]
		dir := dirs[r.Intn(len(dirs))]
		var err error
		switch i % 3 {
		case 0:
			name := fmt.Sprintf("%s-%04d.txt", strings.ReplaceAll(topic, " ", "-"), i)
			err = writeText(filepath.Join(*outputDir, dir, name), topic, r)
		case 1:
			name := fmt.Sprintf("%s-%04d.md", strings.ReplaceAll(topic, " ", "-"), i)
			err = writeMarkdown(filepath.Join(*outputDir, dir, name), topic, r)
		case 2:
			name := fmt.Sprintf("inventory-%04d.csv", i)
			err = writeCSV(filepath.Join(*outputDir, dir, name), r)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
	}

	fmt.Printf("generated %d documents under %s\n", *numFiles, *outputDir)
}
