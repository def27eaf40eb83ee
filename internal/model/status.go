package model

// Severity grades a single violation. Ordering: MINOR < MAJOR < CRITICAL.
type Severity string

const (
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordinal of s, or -1 for an unknown severity.
func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 0
	case SeverityMajor:
		return 1
	case SeverityCritical:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the three known severities.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// Max returns the more severe of s and o.
func (s Severity) Max(o Severity) Severity {
	if o.Rank() > s.Rank() {
		return o
	}
	return s
}

// Status is the lifecycle state of an exam session.
// Ordering: ACTIVE < WARNED < FROZEN < TERMINATED.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusWarned     Status = "WARNED"
	StatusFrozen     Status = "FROZEN"
	StatusTerminated Status = "TERMINATED"
)

// Rank returns the ordinal of s, or -1 for an unknown status.
func (s Status) Rank() int {
	switch s {
	case StatusActive:
		return 0
	case StatusWarned:
		return 1
	case StatusFrozen:
		return 2
	case StatusTerminated:
		return 3
	default:
		return -1
	}
}

func (s Status) Valid() bool { return s.Rank() >= 0 }

// IsTerminal reports whether no further automatic transition can leave s.
func (s Status) IsTerminal() bool { return s == StatusTerminated }

// Locked reports whether the student interface must be blocked in s.
func (s Status) Locked() bool { return s == StatusFrozen || s == StatusTerminated }

// MaxStatus returns the higher-ranked of a and b.
func MaxStatus(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Colour is the moderator-facing traffic light derived from strikes and status.
type Colour string

const (
	ColourGreen  Colour = "GREEN"
	ColourYellow Colour = "YELLOW"
	ColourRed    Colour = "RED"
)

// ColourFor maps a strike total and status to a dashboard colour:
// GREEN up to 2 strikes, YELLOW 3 to 5, RED above 5 or when frozen/terminated.
func ColourFor(total int, st Status) Colour {
	switch {
	case st.Locked() || total > 5:
		return ColourRed
	case total >= 3:
		return ColourYellow
	default:
		return ColourGreen
	}
}
