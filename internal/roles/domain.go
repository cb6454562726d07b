package roles

import "time"

// Template is a named bundle of capability keys assignable to users at a
// scope. Templates carry no scope themselves; scope is fixed at assignment.
type Template struct {
	ID           string
	Name         string
	Description  string
	Capabilities []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
