package tui

import (
	"fmt"
	"slices"
)

// Run starts the appropriate TUI based on the view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	d, ok := data.(RunData)
	if !ok {
		return fmt.Errorf("invalid data type for %s: %T", viewType, data)
	}
	return RunRunTUI(d)
}

// IsTUISupported returns true if the view type supports TUI mode.
// Only views over a single run result are interactive.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{"run", "result"}
}
