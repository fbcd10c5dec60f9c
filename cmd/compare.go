package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/pipeline"
	"github.com/kozaktomas/findandseek/internal/video"
)

var compareCmd = &cobra.Command{
	Use:   "compare <reference-image> <search-image-or-video>",
	Short: "Rank the people in a search image against a missing person",
	Long: `Detect every person in the search image (or in frames sampled from a
video with --video), describe them and rank them by similarity to the
person in the reference photo. Candidates scoring above the match
threshold are flagged as potential matches.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	addPipelineFlags(compareCmd)

	compareCmd.Flags().Bool("video", false, "Treat the search file as a video and sample frames with ffmpeg")
	compareCmd.Flags().Int("frames", 10, fmt.Sprintf("Number of video frames to sample (max %d)", constants.MaxFrames))
	compareCmd.Flags().Int("frame-size", constants.MaxImageSize, "Maximum frame dimension in pixels (0 keeps the original size)")
	compareCmd.Flags().Bool("matches-only", false, "Only print potential matches")
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	applyPipelineFlags(cmd, cfg)
	jsonOutput := mustGetBool(cmd, "json")
	isVideo := mustGetBool(cmd, "video")
	frameCount := mustGetInt(cmd, "frames")
	frameSize := mustGetInt(cmd, "frame-size")
	matchesOnly := mustGetBool(cmd, "matches-only")

	if frameCount <= 0 || frameCount > constants.MaxFrames {
		return fmt.Errorf("--frames must be between 1 and %d", constants.MaxFrames)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reference, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read reference image: %w", err)
	}

	ctx := context.Background()
	comps, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.close()

	var out *pipeline.Outcome
	if isVideo {
		frames, err := sampleVideo(ctx, args[1], frameCount, frameSize, !jsonOutput, logger)
		if err != nil {
			return err
		}
		out, err = comps.orchestrator.AnalyzeAndCompareFrames(ctx, reference, frames)
		if err != nil {
			return comparisonError(out, err)
		}
	} else {
		search, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read search image: %w", err)
		}
		out, err = comps.orchestrator.AnalyzeAndCompare(ctx, reference, search)
		if err != nil {
			return comparisonError(out, err)
		}
	}

	if matchesOnly {
		out.Results = out.Matches()
	}
	if jsonOutput {
		return outputJSON(out)
	}
	printOutcome(out)
	printUsage(comps.providers)
	return nil
}

// sampleVideo extracts evenly spaced frames, showing a progress bar on the terminal.
func sampleVideo(ctx context.Context, path string, count, size int, showProgress bool, logger *zap.Logger) ([][]byte, error) {
	extractor, err := video.NewFrameExtractor(logger)
	if err != nil {
		return nil, err
	}

	if showProgress {
		bar := progressbar.NewOptions(count,
			progressbar.OptionSetDescription("Sampling frames"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		extractor.OnProgress = func(done, total int) {
			_ = bar.Set(done)
		}
		defer func() {
			_ = bar.Finish()
			fmt.Println()
		}()
	}

	frames, err := extractor.ExtractFrames(ctx, path, count, size)
	if err != nil {
		if errors.Is(err, video.ErrNoFrames) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to sample video: %w", err)
	}
	return frames, nil
}

// comparisonError adds the terminal pipeline state to a failed comparison.
func comparisonError(out *pipeline.Outcome, err error) error {
	if out == nil {
		return err
	}
	return fmt.Errorf("comparison %s ended in state %s: %w", out.RequestID, out.State, err)
}
