// SPDX-License-Identifier: MIT

// Package upstream talks to a Jellyfin/Emby-compatible media server: item
// lookup, transcoded master-playlist URLs and subtitle stream URLs. The
// client owns the bearer token; everything else treats the returned URLs
// opaquely.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/metrics"
	"github.com/strmforge/vodpull/internal/platform/httpx"
	platformnet "github.com/strmforge/vodpull/internal/platform/net"
	"github.com/strmforge/vodpull/internal/settings"
	"github.com/strmforge/vodpull/internal/telemetry"
	"github.com/strmforge/vodpull/internal/version"
)

// Options configures client behavior. Zero values pick the defaults below.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	Backoff        time.Duration
	MaxBackoff     time.Duration
	RateLimit      rate.Limit
	RateLimitBurst int
	UserAgent      string

	// AllowPrivateHosts permits LAN and loopback servers, the common
	// deployment for home media servers.
	AllowPrivateHosts bool
}

const (
	defaultTimeout        = 15 * time.Second
	defaultRetries        = 2
	defaultBackoff        = 250 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
	defaultRateLimit      = 10
	defaultRateLimitBurst = 20
)

// Client is a Jellyfin/Emby API client for one saved server.
type Client struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	userAgent  string
	logger     zerolog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// New builds a client for srv. The base URL passes the outbound policy
// before any request is made.
func New(srv settings.Server, opts Options) (*Client, error) {
	opts = normalizeOptions(opts)

	base, err := platformnet.ValidateStreamURL(context.Background(), srv.BaseURL,
		platformnet.StreamPolicy{AllowPrivateHosts: opts.AllowPrivateHosts})
	if err != nil {
		return nil, fmt.Errorf("server %q: %w", srv.ID, err)
	}

	// The otelhttp transport emits the HTTP-level client span and carries
	// the trace headers; the retry loop owns the attempt-level spans.
	httpClient := httpx.NewClient(opts.Timeout)
	httpClient.Transport = otelhttp.NewTransport(httpClient.Transport)

	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      srv.Token,
		deviceID:   uuid.NewString(),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(opts.RateLimit, opts.RateLimitBurst),
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		maxBackoff: opts.MaxBackoff,
		userAgent:  opts.UserAgent,
		logger:     log.WithComponent("upstream"),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}, nil
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "vodpull/" + version.Version
	}
	return opts
}

// SystemInfo is the public server identity, used to verify a saved server.
type SystemInfo struct {
	ID         string `json:"Id"`
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
}

// Ping fetches the public system info. It needs no token and doubles as a
// connectivity check for newly saved servers.
func (c *Client) Ping(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.get(ctx, "/System/Info/Public", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Item fetches one item with its media sources and stream lists.
func (c *Client) Item(ctx context.Context, itemID string) (*Item, error) {
	params := url.Values{}
	params.Set("ids", itemID)
	params.Set("fields", "MediaSources")

	var page struct {
		Items []Item `json:"Items"`
	}
	if err := c.get(ctx, "/Items", params, &page); err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, itemID)
	}
	item := page.Items[0]
	return &item, nil
}

// PlaybackRequest describes the transcode the master URL should ask for.
type PlaybackRequest struct {
	ItemID        string
	MediaSourceID string
	Preset        settings.Preset

	// AudioStreamIndex selects the audio track; negative means server default.
	AudioStreamIndex int

	// SubtitleStreamIndex requests a burned-in subtitle track; negative means
	// none. External subtitle muxing goes through SubtitleURL instead.
	SubtitleStreamIndex int

	// PlaySessionID keys the server-side transcode session. Generated when
	// empty; pass the job's session id so retries reuse the session.
	PlaySessionID string
}

// MasterURL builds the master-playlist URL for req. The URL embeds the token
// as api_key because segment fetches happen outside this client.
func (c *Client) MasterURL(req PlaybackRequest) string {
	sessionID := req.PlaySessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	params := url.Values{}
	params.Set("api_key", c.token)
	params.Set("DeviceId", c.deviceID)
	params.Set("PlaySessionId", sessionID)
	params.Set("MediaSourceId", req.MediaSourceID)
	// Fragmented MP4 segments, so the muxer can concatenate them.
	params.Set("SegmentContainer", "mp4")
	params.Set("VideoCodec", req.Preset.VideoCodec)
	params.Set("AudioCodec", req.Preset.AudioCodec)
	params.Set("VideoBitrate", strconv.Itoa(req.Preset.MaxBitrate))
	params.Set("AudioBitrate", strconv.Itoa(req.Preset.AudioBitrate))
	params.Set("MaxWidth", strconv.Itoa(req.Preset.MaxWidth))
	params.Set("MaxAudioChannels", strconv.Itoa(req.Preset.AudioChannels))
	if req.AudioStreamIndex >= 0 {
		params.Set("AudioStreamIndex", strconv.Itoa(req.AudioStreamIndex))
	}
	if req.SubtitleStreamIndex >= 0 {
		params.Set("SubtitleStreamIndex", strconv.Itoa(req.SubtitleStreamIndex))
		params.Set("SubtitleMethod", "Encode")
	}

	return c.baseURL + "/Videos/" + url.PathEscape(req.ItemID) + "/master.m3u8?" + params.Encode()
}

// SubtitleURL builds the stream URL for an external subtitle track in the
// given container format (srt, vtt, ass, sub).
func (c *Client) SubtitleURL(itemID, mediaSourceID string, subtitleIndex int, format string) string {
	return c.baseURL +
		"/Videos/" + url.PathEscape(itemID) +
		"/" + url.PathEscape(mediaSourceID) +
		"/Subtitles/" + strconv.Itoa(subtitleIndex) +
		"/Stream." + url.PathEscape(format) +
		"?api_key=" + url.QueryEscape(c.token)
}

// AuthHeader returns the headers to forward on subtitle fetches.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("X-Emby-Token", c.token)
	}
	return h
}

// get performs a JSON GET against the server API.
func (c *Client) get(ctx context.Context, path string, params url.Values, v any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	resp, err := c.doGET(ctx, u, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: authentication rejected (status %d)", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: api returned status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doGET runs the request with rate limiting and bounded retries. Server
// errors and transport failures retry with jittered exponential backoff;
// client errors return immediately.
func (c *Client) doGET(ctx context.Context, rawURL, route string) (*http.Response, error) {
	tracer := telemetry.Tracer("vodpull.upstream")
	ctx, span := tracer.Start(ctx, "vodpull.upstream.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.method", http.MethodGet),
		attribute.String("http.route", route),
	)
	defer span.End()

	maxAttempts := c.maxRetries + 1
	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, attemptSpan := tracer.Start(ctx, "vodpull.upstream.request.attempt", trace.WithSpanKind(trace.SpanKindClient))
		attemptSpan.SetAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("retry", attempt > 1),
		)

		if err := c.limiter.Wait(attemptCtx); err != nil {
			attemptSpan.RecordError(err)
			attemptSpan.SetStatus(codes.Error, err.Error())
			attemptSpan.End()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			attemptSpan.RecordError(err)
			attemptSpan.SetStatus(codes.Error, err.Error())
			attemptSpan.End()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		c.applyHeaders(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		retry := attempt < maxAttempts && shouldRetry(resp, err)
		metrics.RecordUpstreamAttempt(status, attempt > 1, duration.Seconds())

		if err != nil {
			attemptSpan.RecordError(err)
			attemptSpan.SetStatus(codes.Error, err.Error())
		} else if status >= http.StatusBadRequest {
			attemptSpan.SetAttributes(attribute.Int("http.status_code", status))
			attemptSpan.SetStatus(codes.Error, http.StatusText(status))
		} else {
			attemptSpan.SetAttributes(attribute.Int("http.status_code", status))
			attemptSpan.SetStatus(codes.Ok, "")
		}
		attemptSpan.End()

		if err == nil && status < http.StatusInternalServerError {
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusBadRequest {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return resp, nil
		}

		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		lastErr = err
		lastStatus = status

		if !retry {
			break
		}

		wait := c.backoffFor(attempt - 1)
		c.logger.Debug().
			Str("event", "upstream.retry").
			Str("route", route).
			Int("attempt", attempt).
			Int("status", status).
			Dur("backoff", wait).
			Msg("retrying media-server request")
		if err := sleepWithContext(ctx, wait); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
		return nil, lastErr
	}
	span.SetAttributes(attribute.Int("http.status_code", lastStatus))
	span.SetStatus(codes.Error, http.StatusText(lastStatus))
	return nil, fmt.Errorf("api returned status %d", lastStatus)
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("X-Emby-Token", c.token)
	}
}

// shouldRetry: transport errors and 5xx retry, everything else is final.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

func (c *Client) backoffFor(attempt int) time.Duration {
	wait := c.backoff * time.Duration(1<<attempt)
	if wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	jitter := time.Duration(c.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (c *Client) randInt63n(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
