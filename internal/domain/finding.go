package domain

import "fmt"

// Severity ranks lint findings
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	// SeverityError marks conditions that will break connectivity when the
	// lab starts, such as a static address colliding with the Docker
	// gateway. Still diagnostic: findings never abort a run.
	SeverityError Severity = "error"
)

// Finding is one non-fatal lint diagnostic
type Finding struct {
	Severity  Severity `json:"severity"`
	Component string   `json:"component"`
	Message   string   `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s", f.Component, f.Severity, f.Message)
}
