package redirector

import "github.com/haukened/rr-portal/internal/portal/domain"

// VisitorTracker records client activity.
type VisitorTracker interface {
	Observe(addr string, kind domain.Activity, name string) (domain.Visitor, error)
}

// Recorder counts query outcomes.
type Recorder interface {
	DNSQuery(result string)
}
