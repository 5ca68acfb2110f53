package ui

import "github.com/charmbracelet/huh"

// Confirm asks a yes/no question through the same form layer the rest of
// the CLI uses. Non-interactive runs never block; they take the default.
func Confirm(question string, defaultYes bool) bool {
	if !IsTerminal() {
		return defaultYes
	}

	answer := defaultYes
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&answer),
		),
	)
	if err := form.Run(); err != nil {
		// Ctrl-C or a closed terminal; treat as "keep the default".
		return defaultYes
	}
	return answer
}
