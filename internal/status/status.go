package status

// Status is the lifecycle state of a download job.
type Status string

const (
	Queued             Status = "queued"
	Resolving          Status = "resolving"
	Downloading        Status = "downloading"
	Assembling         Status = "assembling"
	Completed          Status = "completed"
	PartiallyCompleted Status = "partially_completed"
	Failed             Status = "failed"
	Cancelled          Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can happen from s.
func (s Status) IsTerminal() bool {
	switch s {
	case Completed, PartiallyCompleted, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether s holds one of the global job slots.
func (s Status) IsActive() bool {
	return s == Resolving || s == Downloading || s == Assembling
}

// HasArtifact reports whether a job in state s keeps its output file.
func (s Status) HasArtifact() bool {
	return s == Completed || s == PartiallyCompleted
}
