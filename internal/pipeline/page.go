package pipeline

import (
	"fmt"
	"sort"
)

// Page selects which model the pipeline samples and which layers it draws.
type Page string

const (
	PageASL          Page = "asl"
	PageSegmentation Page = "segmentation"
)

// Toggle names.
const (
	ToggleLandmarks = "landmarks"
	ToggleFreeze    = "freeze"
	TogglePose      = "pose"
	ToggleFace      = "face"
	ToggleLabels    = "labels"
)

// Pages lists the available pages.
func Pages() []Page {
	return []Page{PageASL, PageSegmentation}
}

// ParsePage validates a page name.
func ParsePage(s string) (Page, error) {
	switch Page(s) {
	case PageASL, PageSegmentation:
		return Page(s), nil
	}
	return "", fmt.Errorf("unknown page %q", s)
}

// defaultToggles returns the initial toggle set of a page.
func defaultToggles(page Page) map[string]bool {
	switch page {
	case PageASL:
		return map[string]bool{ToggleLandmarks: true, ToggleFreeze: false}
	case PageSegmentation:
		return map[string]bool{TogglePose: true, ToggleFace: true, ToggleLabels: false}
	}
	return map[string]bool{}
}

// ToggleNames returns the toggles a page accepts, sorted.
func ToggleNames(page Page) []string {
	names := make([]string, 0, 3)
	for name := range defaultToggles(page) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
