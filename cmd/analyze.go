package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/web/handlers"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <reference-image>",
	Short: "Describe the missing person in a reference photo",
	Long: `Describe the person in a reference photo: gender, age range, clothing
per body zone and distinguishing features. Falls back to image statistics
when no vision model is reachable.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	addPipelineFlags(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	applyPipelineFlags(cmd, cfg)
	jsonOutput := mustGetBool(cmd, "json")

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read reference image: %w", err)
	}

	ctx := context.Background()
	comps, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.close()

	desc, err := comps.orchestrator.AnalyzeReference(ctx, image)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(handlers.ReferenceResponse{MissingPerson: desc, Status: constants.StatusReferenceReady})
	}
	fmt.Println("Missing person:")
	printDescriptor(desc)
	printUsage(comps.providers)
	return nil
}
