package constants

import "time"

// HTTP handler constants
const (
	// MaxUploadSize is the maximum multipart upload size in bytes (100MB)
	MaxUploadSize = 100 << 20

	// MaxFrameUploads is the maximum number of frame parts accepted per request
	MaxFrameUploads = MaxFrames

	// RequestTimeout bounds a whole HTTP request, including every pipeline stage
	RequestTimeout = 5 * time.Minute

	// DefaultCaseListLimit is the default number of cases returned by the list endpoint
	DefaultCaseListLimit = 100
)

// Status messages reported with pipeline outcomes
const (
	StatusNoPeopleDetected = "No people detected"
	StatusCompleted        = "Comparison completed"
	StatusReferenceReady   = "Reference analyzed"
)
