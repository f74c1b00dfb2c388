package status

import "testing"

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		s           Status
		terminal    bool
		active      bool
		hasArtifact bool
	}{
		{Queued, false, false, false},
		{Resolving, false, true, false},
		{Downloading, false, true, false},
		{Assembling, false, true, false},
		{Completed, true, false, true},
		{PartiallyCompleted, true, false, true},
		{Failed, true, false, false},
		{Cancelled, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.s.String(), func(t *testing.T) {
			if got := tt.s.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.s.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
			if got := tt.s.HasArtifact(); got != tt.hasArtifact {
				t.Errorf("HasArtifact() = %v, want %v", got, tt.hasArtifact)
			}
		})
	}
}
