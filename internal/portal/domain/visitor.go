package domain

import "time"

// Activity is the kind of traffic a visitor produced.
type Activity int

const (
	ActivityDNS Activity = iota
	ActivityHTTP
)

func (a Activity) String() string {
	switch a {
	case ActivityDNS:
		return "dns"
	case ActivityHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Visitor is everything the portal remembers about one client address.
type Visitor struct {
	Addr         string
	FirstSeen    time.Time
	LastSeen     time.Time
	DNSQueries   uint64
	HTTPRequests uint64
	LastName     string
}

// Observe folds one event into the visitor.
func (v *Visitor) Observe(at time.Time, kind Activity, name string) {
	if v.FirstSeen.IsZero() {
		v.FirstSeen = at
	}
	if at.After(v.LastSeen) {
		v.LastSeen = at
	}
	switch kind {
	case ActivityDNS:
		v.DNSQueries++
		if name != "" {
			v.LastName = name
		}
	case ActivityHTTP:
		v.HTTPRequests++
	}
}
