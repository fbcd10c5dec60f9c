// Package cases keeps missing-person cases: the reported details, the analyzed
// reference descriptor, a timeline of events and the searches run against it.
package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/pipeline"
	"github.com/kozaktomas/findandseek/internal/similarity"
)

var (
	ErrNotFound     = errors.New("case not found")
	ErrInvalidCase  = errors.New("invalid case")
	ErrNoReference  = errors.New("case has no reference descriptor")
	ErrInvalidEvent = errors.New("timeline event needs a name")
)

type Status string

const (
	StatusActive Status = "active"
	StatusFound  Status = "found"
	StatusClosed Status = "closed"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusFound, StatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidCase, s)
}

// Details is what a reporter submits when opening a case.
type Details struct {
	MissingPersonName        string `json:"missing_person_name"`
	MissingPersonAge         int    `json:"missing_person_age"`
	MissingPersonDescription string `json:"missing_person_description"`
	Description              string `json:"description"`
	LastLocation             string `json:"last_location,omitempty"`
	ContactInfo              string `json:"contact_info"`
}

func (d Details) Validate() error {
	switch {
	case strings.TrimSpace(d.MissingPersonName) == "":
		return fmt.Errorf("%w: missing person name is required", ErrInvalidCase)
	case d.MissingPersonAge < 0 || d.MissingPersonAge > 150:
		return fmt.Errorf("%w: age %d out of range", ErrInvalidCase, d.MissingPersonAge)
	case strings.TrimSpace(d.ContactInfo) == "":
		return fmt.Errorf("%w: contact info is required", ErrInvalidCase)
	}
	return nil
}

type Case struct {
	ID string `json:"id"`
	Details
	Status    Status                       `json:"status"`
	Reference *descriptor.PersonDescriptor `json:"reference,omitempty"`
	Timeline  []TimelineEvent              `json:"timeline"`
	Searches  []SearchRecord               `json:"searches"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

type TimelineEvent struct {
	Time    time.Time      `json:"time"`
	Event   string         `json:"event"`
	Details map[string]any `json:"details,omitempty"`
}

// SearchRecord summarizes one comparison run against the case reference.
type SearchRecord struct {
	ID            string                        `json:"id"`
	RequestID     string                        `json:"request_id"`
	Method        string                        `json:"method"`
	Status        string                        `json:"status"`
	DetectedCount int                           `json:"detected_count"`
	MatchCount    int                           `json:"match_count"`
	TopScore      float64                       `json:"top_score"`
	Matches       []similarity.ComparisonResult `json:"matches"`
	CreatedAt     time.Time                     `json:"created_at"`
}

// NewSearchRecord builds a record from a finished comparison. Only potential
// matches are kept.
func NewSearchRecord(id string, out *pipeline.Outcome, at time.Time) SearchRecord {
	rec := SearchRecord{
		ID:            id,
		RequestID:     out.RequestID,
		Method:        out.Method,
		Status:        out.Status,
		DetectedCount: out.DetectedCount,
		Matches:       out.Matches(),
		CreatedAt:     at,
	}
	if rec.Matches == nil {
		rec.Matches = []similarity.ComparisonResult{}
	}
	rec.MatchCount = len(rec.Matches)
	if len(out.Results) > 0 {
		rec.TopScore = out.Results[0].SimilarityScore
	}
	return rec
}

// Store persists cases. Every mutation also appends a timeline event and
// returns the updated case.
type Store interface {
	Create(ctx context.Context, details Details) (*Case, error)
	Get(ctx context.Context, id string) (*Case, error)
	// List returns cases newest first; limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]*Case, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Case, error)
	AddTimelineEvent(ctx context.Context, id string, event TimelineEvent) (*Case, error)
	SetReference(ctx context.Context, id string, ref descriptor.PersonDescriptor) (*Case, error)
	AddSearch(ctx context.Context, id string, rec SearchRecord) (*Case, error)
	Close() error
}

// Timeline event names.
const (
	EventOpened        = "Case opened"
	EventStatusChanged = "Status changed"
	EventReference     = "Reference analyzed"
	EventSearch        = "Search performed"
)

// updateFunc performs an atomic read-modify-write of one case.
type updateFunc func(ctx context.Context, id string, fn func(*Case) error) (*Case, error)

// mutations implements the Store mutations on top of a backend's updateFunc.
type mutations struct {
	update updateFunc
	now    func() time.Time
}

func (m mutations) UpdateStatus(ctx context.Context, id string, status Status) (*Case, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	return m.update(ctx, id, func(c *Case) error {
		now := m.now()
		c.Timeline = append(c.Timeline, TimelineEvent{
			Time:    now,
			Event:   EventStatusChanged,
			Details: map[string]any{"from": string(c.Status), "to": string(status)},
		})
		c.Status = status
		c.UpdatedAt = now
		return nil
	})
}

func (m mutations) AddTimelineEvent(ctx context.Context, id string, event TimelineEvent) (*Case, error) {
	if strings.TrimSpace(event.Event) == "" {
		return nil, ErrInvalidEvent
	}
	return m.update(ctx, id, func(c *Case) error {
		now := m.now()
		if event.Time.IsZero() {
			event.Time = now
		}
		c.Timeline = append(c.Timeline, event)
		c.UpdatedAt = now
		return nil
	})
}

func (m mutations) SetReference(ctx context.Context, id string, ref descriptor.PersonDescriptor) (*Case, error) {
	return m.update(ctx, id, func(c *Case) error {
		now := m.now()
		c.Reference = &ref
		c.Timeline = append(c.Timeline, TimelineEvent{
			Time:    now,
			Event:   EventReference,
			Details: map[string]any{"person_id": ref.PersonID, "source": ref.Source, "error": ref.IsError()},
		})
		c.UpdatedAt = now
		return nil
	})
}

func (m mutations) AddSearch(ctx context.Context, id string, rec SearchRecord) (*Case, error) {
	return m.update(ctx, id, func(c *Case) error {
		now := m.now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		c.Searches = append(c.Searches, rec)
		c.Timeline = append(c.Timeline, TimelineEvent{
			Time:  now,
			Event: EventSearch,
			Details: map[string]any{
				"search_id": rec.ID,
				"method":    rec.Method,
				"detected":  rec.DetectedCount,
				"matches":   rec.MatchCount,
				"top_score": rec.TopScore,
			},
		})
		c.UpdatedAt = now
		return nil
	})
}

// newCase builds a fresh active case with its opening event.
func newCase(id string, details Details, now time.Time) *Case {
	return &Case{
		ID:        id,
		Details:   details,
		Status:    StatusActive,
		Timeline:  []TimelineEvent{{Time: now, Event: EventOpened}},
		Searches:  []SearchRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// clone copies the slices of c so stored values never alias caller values.
func clone(c *Case) *Case {
	out := *c
	out.Timeline = append([]TimelineEvent(nil), c.Timeline...)
	out.Searches = append([]SearchRecord(nil), c.Searches...)
	if out.Timeline == nil {
		out.Timeline = []TimelineEvent{}
	}
	if out.Searches == nil {
		out.Searches = []SearchRecord{}
	}
	if c.Reference != nil {
		ref := *c.Reference
		out.Reference = &ref
	}
	return &out
}
