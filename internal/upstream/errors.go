// SPDX-License-Identifier: MIT
package upstream

import "errors"

var (
	// ErrUnavailable indicates the media server could not be reached or kept
	// answering with server errors after retries.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrNotFound indicates the item id is unknown to the media server.
	ErrNotFound = errors.New("item not found")

	// ErrNoMediaSource indicates the item exists but carries no media source
	// matching the request.
	ErrNoMediaSource = errors.New("no such media source")
)
