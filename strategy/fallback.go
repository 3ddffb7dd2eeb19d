package strategy

import (
	"fmt"
	"net/http"

	"github.com/hupe1980/edgecache/fetch"
)

// OfflineMessage is the headline of the synthesized offline page.
const OfflineMessage = "You are currently offline"

var offlinePage = fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
</head>
<body>
<h1>%s</h1>
<p>This page will be available again once the connection returns.</p>
</body>
</html>
`, OfflineMessage)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="300" viewBox="0 0 400 300" role="img" aria-label="offline image">
<rect width="400" height="300" fill="#d8d8d8"/>
<text x="200" y="150" text-anchor="middle" dominant-baseline="middle" font-family="sans-serif" font-size="24" fill="#555555">offline</text>
</svg>
`

// OfflinePage returns the synthesized response served when the network is
// unreachable. It carries a success status so callers render it instead of
// surfacing an error.
func OfflinePage() *fetch.Response {
	return &fetch.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:   []byte(offlinePage),
	}
}

// PlaceholderImage returns the inline SVG served for image requests that
// miss the cache while the network is unreachable.
func PlaceholderImage() *fetch.Response {
	return &fetch.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"image/svg+xml"}},
		Body:   []byte(placeholderSVG),
	}
}
