package domain

import "strings"

// Asset is a named media file the portal streams on request.
type Asset struct {
	// Route is the path prefix that selects the asset.
	Route       string
	File        string
	ContentType string
}

// DefaultAssets are the media files served next to the landing page.
var DefaultAssets = []Asset{
	{Route: "/image.jpg", File: "image.jpg", ContentType: "image/jpeg"},
	{Route: "/video.mp4", File: "video.mp4", ContentType: "video/mp4"},
}

// MatchAsset returns the asset a GET request selects by path prefix.
// Any other request (including the root) gets the landing page.
func MatchAsset(assets []Asset, req Request) (Asset, bool) {
	if req.Method != "GET" {
		return Asset{}, false
	}
	for _, a := range assets {
		if strings.HasPrefix(req.Path, a.Route) {
			return a, true
		}
	}
	return Asset{}, false
}
