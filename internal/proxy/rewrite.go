package proxy

import (
	"regexp"
	"strconv"
	"time"
)

// Client paths served by every proxy next to the proxied server.
const (
	ClientScriptPath = "/__aemfed/client.js"
	WebSocketPath    = "/__aemfed/ws"
	cacheBusterParam = "aemfed"
)

var (
	// Stylesheets lose .min and the content hash so the injected client can
	// match them against the library names it is told about.
	styleLink = regexp.MustCompile(`(?i)(<link rel="stylesheet" href="/[^">]*?)(\.min)?(\.[0-9a-f]{32})?(\.css)("[^>]*>)`)
	// Scripts are never injected and keep .min, which triggers minification.
	// Group numbers match styleLink.
	scriptTag = regexp.MustCompile(`(?i)(<script type="[^"]*?/javascript" src="/[^">]*?(\.min)?(\.[0-9a-f]{32})?)(\.js)("[^>]*>)`)

	bodyEnd = regexp.MustCompile(`(?i)</body>`)

	clientTag = []byte(`<script async src="` + ClientScriptPath + `"></script>`)
)

// RewriteHTML adds a cache buster to every client library include and
// injects the reload client before the closing body tag.
func RewriteHTML(page []byte, now time.Time) []byte {
	buster := "${1}${4}?" + cacheBusterParam + "=" + strconv.FormatInt(now.UnixMilli(), 10) + "${5}"
	page = styleLink.ReplaceAll(page, []byte(buster))
	page = scriptTag.ReplaceAll(page, []byte(buster))
	return injectClient(page)
}

func injectClient(page []byte) []byte {
	locs := bodyEnd.FindAllIndex(page, -1)
	if len(locs) == 0 {
		return page
	}
	at := locs[len(locs)-1][0]

	out := make([]byte, 0, len(page)+len(clientTag))
	out = append(out, page[:at]...)
	out = append(out, clientTag...)
	return append(out, page[at:]...)
}
