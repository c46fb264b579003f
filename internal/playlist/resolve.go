// SPDX-License-Identifier: MIT
package playlist

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL resolves a playlist entry against its base URL. Absolute
// entries pass through untouched. Relative entries replace the directory
// part of the base path (everything up to and including the last slash) and
// merge their query parameters into the base query; on duplicate keys the
// entry wins. Upstream transcoders key session state off those query
// parameters, so dropping the base query would invalidate the session.
func ResolveURL(baseURL, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty reference URL")
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref, nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}

	refPath, refQuery, _ := strings.Cut(ref, "?")

	dir := base.Path
	if idx := strings.LastIndex(dir, "/"); idx >= 0 {
		dir = dir[:idx+1]
	} else {
		dir = "/"
	}

	merged := base.Query()
	if refQuery != "" {
		refValues, err := url.ParseQuery(refQuery)
		if err != nil {
			return "", fmt.Errorf("parse reference query: %w", err)
		}
		for key, values := range refValues {
			merged[key] = values
		}
	}

	resolved := *base
	resolved.Path = dir + refPath
	resolved.RawQuery = merged.Encode()
	resolved.Fragment = ""
	return resolved.String(), nil
}
