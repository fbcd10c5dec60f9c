package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/findandseek/internal/cases"
	"github.com/kozaktomas/findandseek/internal/constants"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Manage missing-person cases",
	Long: `Open, list and update missing-person cases in the configured case store
(CASES_BACKEND: memory, postgres or redis). The memory store only lives for
the duration of one command, use postgres or redis for the CLI.`,
}

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases, newest first",
	Args:  cobra.NoArgs,
	RunE:  runCasesList,
}

var casesShowCmd = &cobra.Command{
	Use:   "show <case-id>",
	Short: "Show a case with its timeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runCasesShow,
}

var casesOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a new case",
	Args:  cobra.NoArgs,
	RunE:  runCasesOpen,
}

var casesStatusCmd = &cobra.Command{
	Use:   "status <case-id> <active|found|closed>",
	Short: "Change the status of a case",
	Args:  cobra.ExactArgs(2),
	RunE:  runCasesStatus,
}

var casesReferenceCmd = &cobra.Command{
	Use:   "reference <case-id> <reference-image>",
	Short: "Analyze a reference photo and attach it to a case",
	Args:  cobra.ExactArgs(2),
	RunE:  runCasesReference,
}

var casesSearchCmd = &cobra.Command{
	Use:   "search <case-id> <search-image>",
	Short: "Search an image for the case's missing person and record the result",
	Args:  cobra.ExactArgs(2),
	RunE:  runCasesSearch,
}

func init() {
	rootCmd.AddCommand(casesCmd)
	casesCmd.AddCommand(casesListCmd, casesShowCmd, casesOpenCmd, casesStatusCmd, casesReferenceCmd, casesSearchCmd)

	casesCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	casesListCmd.Flags().Int("limit", constants.DefaultCaseListLimit, "Maximum number of cases to list")

	casesOpenCmd.Flags().String("name", "", "Name of the missing person (required)")
	casesOpenCmd.Flags().Int("age", 0, "Age of the missing person")
	casesOpenCmd.Flags().String("person-description", "", "Physical description of the missing person")
	casesOpenCmd.Flags().String("description", "", "Circumstances of the disappearance")
	casesOpenCmd.Flags().String("last-location", "", "Last known location")
	casesOpenCmd.Flags().String("contact", "", "Contact information (required)")

	for _, c := range []*cobra.Command{casesReferenceCmd, casesSearchCmd} {
		c.Flags().String("provider", "", "Vision provider: openai, gemini, ollama, llamacpp, none (overrides DESCRIPTOR_PROVIDER and SCORER_PROVIDER)")
		c.Flags().String("detector", "", "Person detector: sidecar, opencv, none (overrides DETECTOR_BACKEND)")
		c.Flags().Int("concurrency", 0, "Parallel backend calls (overrides PIPELINE_CONCURRENCY)")
	}
}

// withStore loads the configuration, opens the case store and runs fn with it.
func withStore(fn func(ctx context.Context, store cases.Store) error) error {
	cfg := loadConfig()
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func printCase(cmd *cobra.Command, c *cases.Case) error {
	if mustGetBool(cmd, "json") {
		return outputJSON(c)
	}

	fmt.Printf("Case:      %s (%s)\n", c.ID, c.Status)
	fmt.Printf("Name:      %s\n", c.MissingPersonName)
	if c.MissingPersonAge > 0 {
		fmt.Printf("Age:       %d\n", c.MissingPersonAge)
	}
	fmt.Printf("Last seen: %s\n", orDash(c.LastLocation))
	fmt.Printf("Contact:   %s\n", c.ContactInfo)
	fmt.Printf("Opened:    %s\n", c.CreatedAt.Format(time.RFC3339))
	if c.Reference != nil {
		fmt.Println("\nReference:")
		printDescriptor(*c.Reference)
	}
	if len(c.Searches) > 0 {
		fmt.Printf("\nSearches: %d\n", len(c.Searches))
		for _, s := range c.Searches {
			fmt.Printf("  %s  %-18s detected %d, matches %d, top %.2f\n",
				s.CreatedAt.Format(time.RFC3339), s.Method, s.DetectedCount, s.MatchCount, s.TopScore)
		}
	}
	fmt.Println("\nTimeline:")
	for _, e := range c.Timeline {
		fmt.Printf("  %s  %s\n", e.Time.Format(time.RFC3339), e.Event)
	}
	return nil
}

func runCasesList(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	return withStore(func(ctx context.Context, store cases.Store) error {
		list, err := store.List(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to list cases: %w", err)
		}
		if mustGetBool(cmd, "json") {
			return outputJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No cases found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSEARCHES\tOPENED")
		fmt.Fprintln(w, "--\t----\t------\t--------\t------")
		for _, c := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.MissingPersonName, c.Status, len(c.Searches), c.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
		fmt.Printf("\nTotal: %d cases\n", len(list))
		return nil
	})
}

func runCasesShow(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store cases.Store) error {
		c, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printCase(cmd, c)
	})
}

func runCasesOpen(cmd *cobra.Command, args []string) error {
	details := cases.Details{
		MissingPersonName:        mustGetString(cmd, "name"),
		MissingPersonAge:         mustGetInt(cmd, "age"),
		MissingPersonDescription: mustGetString(cmd, "person-description"),
		Description:              mustGetString(cmd, "description"),
		LastLocation:             mustGetString(cmd, "last-location"),
		ContactInfo:              mustGetString(cmd, "contact"),
	}
	return withStore(func(ctx context.Context, store cases.Store) error {
		c, err := store.Create(ctx, details)
		if err != nil {
			return err
		}
		return printCase(cmd, c)
	})
}

func runCasesStatus(cmd *cobra.Command, args []string) error {
	status, err := cases.ParseStatus(args[1])
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store cases.Store) error {
		c, err := store.UpdateStatus(ctx, args[0], status)
		if err != nil {
			return err
		}
		return printCase(cmd, c)
	})
}

func runCasesReference(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read reference image: %w", err)
	}

	cfg := loadConfig()
	applyPipelineFlags(cmd, cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if _, err := store.Get(ctx, args[0]); err != nil {
		return err
	}

	comps, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.close()

	desc, err := comps.orchestrator.AnalyzeReference(ctx, image)
	if err != nil {
		return err
	}
	if desc.IsError() {
		return fmt.Errorf("reference could not be described: %s", desc.Error)
	}

	c, err := store.SetReference(ctx, args[0], desc)
	if err != nil {
		return err
	}
	if err := printCase(cmd, c); err != nil {
		return err
	}
	if !mustGetBool(cmd, "json") {
		printUsage(comps.providers)
	}
	return nil
}

func runCasesSearch(cmd *cobra.Command, args []string) error {
	search, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read search image: %w", err)
	}

	cfg := loadConfig()
	applyPipelineFlags(cmd, cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	c, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if c.Reference == nil {
		return cases.ErrNoReference
	}

	comps, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.close()

	out, err := comps.orchestrator.CompareWithDescriptor(ctx, *c.Reference, search)
	if err != nil {
		return comparisonError(out, err)
	}

	rec := cases.NewSearchRecord(uuid.NewString(), out, time.Now().UTC())
	if _, err := store.AddSearch(ctx, c.ID, rec); err != nil {
		return fmt.Errorf("failed to record search: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}
	printOutcome(out)
	printUsage(comps.providers)
	return nil
}
