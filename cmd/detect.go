package cmd

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/findandseek/internal/detect"
	"github.com/kozaktomas/findandseek/internal/imaging"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>...",
	Short: "List the people found in images",
	Long: `Run person detection on one or more images and print the padded bounding
boxes. Several images are treated as frames of one video. Uses the
centered heuristic box when the configured detector is unavailable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().String("detector", "", "Person detector: sidecar, opencv, none (overrides DETECTOR_BACKEND)")
	detectCmd.Flags().Float64("threshold", 0, "Detection confidence threshold (overrides DETECTOR_THRESHOLD)")
	detectCmd.Flags().Bool("json", false, "Output as JSON")
}

// DetectResult is the JSON output of the detect command.
type DetectResult struct {
	Detector   string             `json:"detector"`
	Heuristic  bool               `json:"heuristic"`
	Detections []detect.Detection `json:"detections"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if detector := mustGetString(cmd, "detector"); detector != "" {
		cfg.Detector.Backend = detector
	}
	if threshold := mustGetFloat64(cmd, "threshold"); threshold > 0 {
		cfg.Detector.Threshold = threshold
	}
	jsonOutput := mustGetBool(cmd, "json")

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	frames := make([]image.Image, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		img, err := imaging.Decode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		frames = append(frames, img)
	}

	primary, closeDetector, err := newDetector(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDetector()

	usedFallback := false
	chain := &detect.Chain{
		Primary:    primary,
		Fallback:   detect.NewFallbackDetector(cfg.Detector.Threshold),
		Timeout:    cfg.Pipeline.BackendTimeout,
		Logger:     logger,
		OnFallback: func(error) { usedFallback = true },
	}

	ctx := context.Background()
	var dets []detect.Detection
	if len(frames) == 1 {
		dets, err = chain.Detect(ctx, frames[0])
	} else {
		dets, err = detect.DetectFrames(ctx, chain, frames, cfg.Detector.MaxFrames)
	}
	if err != nil {
		return err
	}

	result := DetectResult{Detector: chain.Name(), Heuristic: usedFallback, Detections: dets}
	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("Detector: %s", result.Detector)
	if usedFallback {
		fmt.Print(" (heuristic fallback)")
	}
	fmt.Printf("\nPeople detected: %d\n", len(dets))
	for i, d := range dets {
		frame := ""
		if d.FrameIndex != nil {
			frame = fmt.Sprintf(" frame %d", *d.FrameIndex)
		}
		fmt.Printf("  %2d.%s box (%d,%d)-(%d,%d) confidence %.2f %s\n",
			i+1, frame, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2, d.Confidence, d.Label)
	}
	return nil
}
