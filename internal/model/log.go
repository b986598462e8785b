package model

import "time"

// LogKind is the severity of a log line shown to the user.
type LogKind int

const (
	KindNormal LogKind = iota
	KindError
	KindSuccess
	KindWarning
)

func (k LogKind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindSuccess:
		return "success"
	case KindWarning:
		return "warning"
	default:
		return "normal"
	}
}

// LogLine is one immutable entry of the task output log.
type LogLine struct {
	ID   string
	Time time.Time
	Text string
	Kind LogKind
}
