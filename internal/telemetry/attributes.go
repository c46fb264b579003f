// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the daemon.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Download attributes
	DownloadItemKey     = "download.item_id"
	DownloadPresetKey   = "download.preset"
	DownloadSegmentsKey = "download.segments"
	DownloadBytesKey    = "download.bytes"

	// Job attributes
	JobIDKey     = "job.id"
	JobStatusKey = "job.status"
	JobStageKey  = "job.stage"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// JobAttributes creates job-related span attributes.
func JobAttributes(jobID, status, stage string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if jobID != "" {
		attrs = append(attrs, attribute.String(JobIDKey, jobID))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(JobStatusKey, status))
	}
	if stage != "" {
		attrs = append(attrs, attribute.String(JobStageKey, stage))
	}
	return attrs
}

// DownloadAttributes creates download-related span attributes.
func DownloadAttributes(itemID, preset string, segments int, bytes int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DownloadItemKey, itemID),
		attribute.String(DownloadPresetKey, preset),
		attribute.Int(DownloadSegmentsKey, segments),
		attribute.Int64(DownloadBytesKey, bytes),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
