package ffmpeg

import (
	"fmt"
	"strings"
)

// FilterBuilder helps construct ffmpeg filter chains
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0),
	}
}

// SetPTS scales presentation timestamps; a multiplier below 1 speeds video up
func (fb *FilterBuilder) SetPTS(multiplier float64) *FilterBuilder {
	if multiplier <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("setpts=%.6f*PTS", multiplier))
	return fb
}

// ATempo changes audio speed without altering pitch
func (fb *FilterBuilder) ATempo(tempo float64) *FilterBuilder {
	if tempo <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("atempo=%.6f", tempo))
	return fb
}

// Custom adds a custom filter string
func (fb *FilterBuilder) Custom(filter string) *FilterBuilder {
	fb.filters = append(fb.filters, filter)
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	if len(fb.filters) == 0 {
		return ""
	}
	return strings.Join(fb.filters, ",")
}
