package vision

import (
	_ "embed"
	"fmt"
)

//go:embed prompts/person_descriptor.txt
var personDescriptorPrompt string

//go:embed prompts/group_descriptor.txt
var groupDescriptorPrompt string

//go:embed prompts/compare.txt
var comparePrompt string

// PersonPrompt returns the instructions for describing one person crop.
func PersonPrompt() string {
	return personDescriptorPrompt
}

// GroupPrompt returns the instructions for describing n crops in one request.
func GroupPrompt(n int) string {
	return fmt.Sprintf(groupDescriptorPrompt, n)
}

// ComparePrompt returns the instructions for scoring a candidate against a reference.
func ComparePrompt() string {
	return comparePrompt
}

// BuildCompareContent builds the user message for a comparison from two JSON documents.
func BuildCompareContent(referenceJSON, candidateJSON []byte) string {
	return fmt.Sprintf("Missing person:\n%s\n\nDetected individual:\n%s\n", referenceJSON, candidateJSON)
}
