// Package descriptor turns person images into structured appearance descriptors.
package descriptor

import (
	"context"
	"encoding/json"
	"strings"
)

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// ParseGender maps free-form model output onto the three known values.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "man", "m", "boy":
		return GenderMale
	case "female", "woman", "f", "girl":
		return GenderFemale
	}
	return GenderUnknown
}

// Clothing is described per body zone, free text including color.
type Clothing struct {
	Upper    string `json:"upper"`
	Lower    string `json:"lower"`
	Footwear string `json:"footwear"`
}

// PersonDescriptor is the appearance summary of one person.
type PersonDescriptor struct {
	PersonID               string   `json:"person_id"`
	Gender                 Gender   `json:"gender"`
	AgeRange               string   `json:"age_estimate"`
	Clothing               Clothing `json:"clothing"`
	Ethnicity              *string  `json:"ethnicity,omitempty"`
	DistinguishingFeatures []string `json:"distinguishing_features"`
	Confidence             *float64 `json:"confidence,omitempty"`
	Error                  string   `json:"error,omitempty"`
	Source                 string   `json:"source"`
	FrameIndex             *int     `json:"frame_index,omitempty"`
}

// IsError reports whether the descriptor stands in for a failed description.
func (d PersonDescriptor) IsError() bool {
	return d.Error != ""
}

// EthnicityOrEmpty returns the ethnicity, or "" when none was estimated.
func (d PersonDescriptor) EthnicityOrEmpty() string {
	if d.Ethnicity == nil {
		return ""
	}
	return *d.Ethnicity
}

// WithFrame returns a copy of d tagged with a video frame index.
func (d PersonDescriptor) WithFrame(frame *int) PersonDescriptor {
	if frame != nil {
		idx := *frame
		d.FrameIndex = &idx
	}
	d.DistinguishingFeatures = append([]string(nil), d.DistinguishingFeatures...)
	return d
}

// ErrorDescriptor builds the placeholder returned when a person could not be described.
// The reason is kept both in Error and in DistinguishingFeatures so that consumers
// reading only the descriptor fields still see it.
func ErrorDescriptor(reason, source string) PersonDescriptor {
	return PersonDescriptor{
		PersonID:               "error",
		Gender:                 GenderUnknown,
		AgeRange:               "unknown",
		Clothing:               Clothing{Upper: "unknown", Lower: "unknown", Footwear: "unknown"},
		DistinguishingFeatures: []string{reason},
		Error:                  reason,
		Source:                 source,
	}
}

// Service describes people in encoded images.
type Service interface {
	// Method is the provenance tag of descriptors this service produces.
	Method() string
	Describe(ctx context.Context, image []byte) (PersonDescriptor, error)
	// DescribeMany describes every crop. The result may be shorter than the input
	// when a crop turns out not to show a person.
	DescribeMany(ctx context.Context, images [][]byte) ([]PersonDescriptor, error)
}

// modelPerson is the JSON object a vision model returns for one person.
type modelPerson struct {
	ImageIndex             *int        `json:"image_index"`
	IsPerson               *bool       `json:"is_person"`
	Gender                 string      `json:"gender"`
	AgeEstimate            string      `json:"age_estimate"`
	Clothing               Clothing    `json:"clothing"`
	Ethnicity              string      `json:"ethnicity"`
	DistinguishingFeatures featureList `json:"distinguishing_features"`
	Confidence             *float64    `json:"confidence"`
}

// featureList accepts a JSON array of strings or a single comma separated string.
type featureList []string

func (f *featureList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = nil
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*f = append(*f, part)
		}
	}
	return nil
}

func (p modelPerson) notPerson() bool {
	return p.IsPerson != nil && !*p.IsPerson
}

func (p modelPerson) toDescriptor(id, source string) PersonDescriptor {
	d := PersonDescriptor{
		PersonID:               id,
		Gender:                 ParseGender(p.Gender),
		AgeRange:               orUnknown(p.AgeEstimate),
		Clothing:               p.Clothing,
		DistinguishingFeatures: append([]string{}, p.DistinguishingFeatures...),
		Source:                 source,
	}
	if e := strings.TrimSpace(p.Ethnicity); e != "" && !IsUnknown(e) {
		d.Ethnicity = &e
	}
	if p.Confidence != nil {
		c := min(max(*p.Confidence, 0), 1)
		d.Confidence = &c
	}
	return d
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}

// IsUnknown reports whether an attribute value carries no information.
func IsUnknown(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "n/a", "none", "not visible", "unclear":
		return true
	}
	return false
}
