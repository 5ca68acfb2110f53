package ui

import "testing"

func TestConfirmNonInteractiveTakesDefault(t *testing.T) {
	if IsTerminal() {
		t.Skip("stdout is a terminal")
	}
	if !Confirm("proceed?", true) {
		t.Error("expected the true default in a non-interactive run")
	}
	if Confirm("proceed?", false) {
		t.Error("expected the false default in a non-interactive run")
	}
}
