package domain

import "strings"

// Request is the part of an HTTP request line the portal acts on.
// Header values are never retained.
type Request struct {
	Method  string
	Path    string
	Version string
	Line    string
}

// ParseRequestLine splits "METHOD PATH VERSION". Missing parts stay empty;
// a malformed line still yields a Request so it can be served the landing page.
func ParseRequestLine(line string) Request {
	line = strings.TrimRight(line, "\r\n")
	req := Request{Line: line}
	parts := strings.Fields(line)
	if len(parts) > 0 {
		req.Method = parts[0]
	}
	if len(parts) > 1 {
		req.Path = parts[1]
	}
	if len(parts) > 2 {
		req.Version = parts[2]
	}
	return req
}
