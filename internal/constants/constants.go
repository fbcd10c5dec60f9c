// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Detection constants
const (
	// DefaultDetectionThreshold is the minimum confidence a person detection must exceed
	DefaultDetectionThreshold = 0.3

	// DefaultPaddingRatio is the fraction of box width/height added on each side
	DefaultPaddingRatio = 0.1

	// DefaultOverlapThreshold is the IoU above which the weaker of two boxes is dropped
	DefaultOverlapThreshold = 0.7

	// MaxFrames is the maximum number of video frames sampled per request
	MaxFrames = 50

	// FallbackDetectionConfidence is the nominal confidence of the synthetic detection
	FallbackDetectionConfidence = 0.5
)

// Scoring constants
const (
	// DefaultBaseScore is the starting heuristic similarity score
	DefaultBaseScore = 0.5

	// DefaultAttributeIncrement is added per matching attribute
	DefaultAttributeIncrement = 0.1

	// DefaultMatchThreshold is the score a candidate must exceed to be a potential match
	DefaultMatchThreshold = 0.6

	// HeuristicDescriptorConfidence is the confidence reported for statistics-based descriptors
	HeuristicDescriptorConfidence = 0.2
)

// Processing constants
const (
	// DefaultBackendTimeout bounds every call to a model backend
	DefaultBackendTimeout = 30 * time.Second

	// DefaultConcurrency is the default number of parallel per-person backend calls;
	// 0 starts one call per person in the batch
	DefaultConcurrency = 0

	// MaxImageSize is the maximum dimension (width or height) sent to a vision backend
	MaxImageSize = 800

	// JPEGQuality is used whenever crops or frames are re-encoded
	JPEGQuality = 85
)

// Method tags
const (
	MethodModel     = "model-backend"
	MethodHeuristic = "heuristic-fallback"
)
