package router

import (
	"time"

	"mindlink/pkg/types"
)

// Policy maps event names to budgets. Events without an entry get Default.
type Policy struct {
	Default Limits
	Events  map[string]Limits
}

// DefaultPolicy is the production budget table.
func DefaultPolicy() Policy {
	minute := time.Minute
	return Policy{
		Default: Limits{MaxRequests: 100, Window: minute},
		Events: map[string]Limits{
			types.EventEEGData:            {MaxRequests: 300, Window: minute},
			types.EventTeacherJoin:        {MaxRequests: 5, Window: minute},
			types.EventStudentJoin:        {MaxRequests: 5, Window: minute},
			types.EventTeacherLeave:       {MaxRequests: 10, Window: minute},
			types.EventStudentLeave:       {MaxRequests: 10, Window: minute},
			types.EventTeacherGetStudents: {MaxRequests: 30, Window: minute},
		},
	}
}

// For returns the limits of event, or the default budget.
func (p Policy) For(event string) Limits {
	if l, ok := p.Events[event]; ok {
		return l
	}
	return p.Default
}
