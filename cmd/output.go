package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/findandseek/internal/config"
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/pipeline"
)

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// addPipelineFlags registers the flags that override pipeline configuration for one run.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "", "Vision provider: openai, gemini, ollama, llamacpp, none (overrides DESCRIPTOR_PROVIDER and SCORER_PROVIDER)")
	cmd.Flags().String("detector", "", "Person detector: sidecar, opencv, none (overrides DETECTOR_BACKEND)")
	cmd.Flags().Int("concurrency", 0, "Parallel backend calls (overrides PIPELINE_CONCURRENCY)")
	cmd.Flags().Bool("json", false, "Output as JSON")
}

func applyPipelineFlags(cmd *cobra.Command, cfg *config.Config) {
	if provider := mustGetString(cmd, "provider"); provider != "" {
		cfg.Pipeline.DescriptorProvider = provider
		cfg.Pipeline.ScorerProvider = provider
	}
	if detector := mustGetString(cmd, "detector"); detector != "" {
		cfg.Detector.Backend = detector
	}
	if concurrency := mustGetInt(cmd, "concurrency"); concurrency > 0 {
		cfg.Pipeline.Concurrency = concurrency
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// printDescriptor prints a person descriptor in human readable form.
func printDescriptor(d descriptor.PersonDescriptor) {
	if d.IsError() {
		fmt.Printf("  Error:     %s\n", d.Error)
		return
	}
	fmt.Printf("  Person:    %s\n", d.PersonID)
	fmt.Printf("  Gender:    %s\n", d.Gender)
	fmt.Printf("  Age:       %s\n", orDash(d.AgeRange))
	fmt.Printf("  Ethnicity: %s\n", orDash(d.EthnicityOrEmpty()))
	fmt.Printf("  Upper:     %s\n", orDash(d.Clothing.Upper))
	fmt.Printf("  Lower:     %s\n", orDash(d.Clothing.Lower))
	fmt.Printf("  Footwear:  %s\n", orDash(d.Clothing.Footwear))
	if len(d.DistinguishingFeatures) > 0 {
		fmt.Printf("  Features:  %s\n", strings.Join(d.DistinguishingFeatures, ", "))
	}
	if d.Confidence != nil {
		fmt.Printf("  Confidence: %.2f\n", *d.Confidence)
	}
	fmt.Printf("  Source:    %s\n", d.Source)
}

// printOutcome prints a ranked comparison outcome.
func printOutcome(out *pipeline.Outcome) {
	fmt.Printf("Request:  %s\n", out.RequestID)
	fmt.Printf("Status:   %s\n", out.Status)
	fmt.Printf("Method:   %s\n", out.Method)
	fmt.Printf("Detected: %d\n", out.DetectedCount)

	if out.Reference != nil {
		fmt.Println("\nMissing person:")
		printDescriptor(*out.Reference)
	}
	if len(out.Results) == 0 {
		return
	}

	fmt.Printf("\n%-5s %-6s %-6s %-6s %-8s %-30s %s\n", "Rank", "Score", "Match", "Frame", "Gender", "Upper", "Lower")
	for i, r := range out.Results {
		match := ""
		if r.PotentialMatch {
			match = "yes"
		}
		frame := "-"
		if r.Candidate.FrameIndex != nil {
			frame = fmt.Sprintf("%d", *r.Candidate.FrameIndex)
		}
		if r.Candidate.IsError() {
			fmt.Printf("%-5d %-6.2f %-6s %-6s error: %s\n", i+1, r.SimilarityScore, match, frame, r.Candidate.Error)
			continue
		}
		fmt.Printf("%-5d %-6.2f %-6s %-6s %-8s %-30s %s\n", i+1, r.SimilarityScore, match, frame,
			r.Candidate.Gender, orDash(r.Candidate.Clothing.Upper), orDash(r.Candidate.Clothing.Lower))
	}

	if matches := out.Matches(); len(matches) > 0 {
		fmt.Printf("\n%d potential match(es)\n", len(matches))
	} else {
		fmt.Println("\nNo potential matches")
	}
}
