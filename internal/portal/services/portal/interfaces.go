package portal

import (
	"io"

	"github.com/haukened/rr-portal/internal/portal/domain"
)

// AssetSource supplies the landing document and media files.
type AssetSource interface {
	Landing() ([]byte, error)
	Open(name string) (io.ReadCloser, error)
}

// VisitorTracker records client activity.
type VisitorTracker interface {
	Observe(addr string, kind domain.Activity, name string) (domain.Visitor, error)
}

// Recorder counts answered requests and bytes sent.
type Recorder interface {
	HTTPRequest(route string, status int)
	HTTPBytes(n int)
}
