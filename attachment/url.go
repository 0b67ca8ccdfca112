package attachment

import (
	"net/url"
	"strings"
)

// ResolveURL resolves an attachment reference from the server against the API
// base. Absolute references are returned unchanged; unparsable input is
// returned as given.
func ResolveURL(apiBase, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	target, err := url.Parse(ref)
	if err != nil || target.IsAbs() {
		return ref
	}

	base, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil || !base.IsAbs() {
		return ref
	}
	// Relative references resolve beneath the base path, not beside it.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
		base.RawPath = ""
	}

	return base.ResolveReference(target).String()
}
