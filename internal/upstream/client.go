package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"shopgate/pkg/merchants"
	"shopgate/pkg/problems"
)

var (
	upstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopgate_upstream_requests_total",
		Help: "Upstream platform calls by operation and outcome.",
	}, []string{"op", "outcome"})
	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopgate_upstream_request_duration_seconds",
		Help:    "Upstream platform call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// Revoker marks a merchant's credential inactive if it is still the current
// grant. merchants.Store satisfies it.
type Revoker interface {
	Revoke(ctx context.Context, cred merchants.Credential) error
}

type Config struct {
	APIVersion string
	Timeout    time.Duration
}

// Response is a successful upstream reply.
type Response struct {
	StatusCode int             `json:"-"`
	Body       json.RawMessage `json:"data"`
	Page       *PageInfo       `json:"page,omitempty"`
	Summary    map[string]any  `json:"summary,omitempty"`
}

// Client issues credential-bearing calls to a merchant's shop. It never
// retries; every failure is classified and returned.
type Client struct {
	rc      *resty.Client
	version string
	revoker Revoker
	policy  Policy
	log     *zap.SugaredLogger
	shopURL func(shop string) string
}

type Option func(*Client)

// WithShopURL overrides how a shop domain becomes a base URL
// (default "https://" + shop).
func WithShopURL(f func(shop string) string) Option { return func(c *Client) { c.shopURL = f } }

// WithPolicy sets the scope policy checked before each call. A nil policy
// allows everything.
func WithPolicy(p Policy) Option { return func(c *Client) { c.policy = p } }

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.rc.SetTransport(otelhttp.NewTransport(rt)) }
}

func NewClient(cfg Config, revoker Revoker, log *zap.SugaredLogger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetLogger(log).
		SetHeader("Accept", "application/json").
		SetTransport(otelhttp.NewTransport(http.DefaultTransport))
	c := &Client{
		rc:      rc,
		version: cfg.APIVersion,
		revoker: revoker,
		log:     log,
		shopURL: func(shop string) string { return "https://" + shop },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) endpoint(shop, path string) string {
	return strings.TrimRight(c.shopURL(shop), "/") + "/admin/api/" + c.version + path
}

// do runs one upstream call. op names the operation for metrics and logs.
func (c *Client) do(ctx context.Context, op string, cred merchants.Credential, method, path string, query url.Values, body json.RawMessage) (*Response, error) {
	if !cred.Valid() {
		return nil, problems.New(problems.InactiveTenant, "no usable credential")
	}
	if c.policy != nil {
		ok, err := c.policy.Allow(ctx, method, path, cred.Scopes)
		if err != nil {
			return nil, problems.Wrap(problems.Internal, err, "scope policy")
		}
		if !ok {
			upstreamCalls.WithLabelValues(op, "denied").Inc()
			return nil, problems.New(problems.InvalidRequest, "granted scopes do not cover %s %s", method, path)
		}
	}

	req := c.rc.R().SetContext(ctx).SetQueryParamsFromValues(query)
	cred.Apply(req.Header)
	if len(body) > 0 {
		req.SetHeader("Content-Type", "application/json").SetBody([]byte(body))
	}

	start := time.Now()
	resp, err := req.Execute(method, c.endpoint(cred.ShopDomain, path))
	upstreamLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		upstreamCalls.WithLabelValues(op, "unavailable").Inc()
		c.log.Warnw("upstream unreachable", "merchant_id", cred.TenantID, "op", op, "err", err)
		return nil, problems.Wrap(problems.UpstreamUnavailable, err, "upstream unreachable")
	}
	if err := c.classify(ctx, op, cred, resp); err != nil {
		return nil, err
	}
	upstreamCalls.WithLabelValues(op, "ok").Inc()
	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       rawJSON(resp.Body()),
		Page:       ParseLink(resp.Header().Get("Link")),
	}, nil
}

// classify maps a non-2xx upstream status onto the gateway taxonomy. A 401 or
// 403 also deactivates the stored credential.
func (c *Client) classify(ctx context.Context, op string, cred merchants.Credential, resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		upstreamCalls.WithLabelValues(op, "revoked").Inc()
		c.log.Warnw("credential rejected by upstream", "merchant_id", cred.TenantID, "shop", cred.ShopDomain, "status", code)
		if c.revoker != nil {
			// The caller may already be gone; the revocation must still land.
			err := c.revoker.Revoke(context.WithoutCancel(ctx), cred)
			switch {
			case err == nil, errors.Is(err, merchants.ErrNotFound):
			case errors.Is(err, merchants.ErrStaleCredential):
				c.log.Infow("rejected credential already replaced, keeping the new grant", "merchant_id", cred.TenantID)
			default:
				c.log.Errorw("deactivate after upstream rejection failed", "merchant_id", cred.TenantID, "err", err)
			}
		}
		return problems.New(problems.CredentialRevoked, "upstream rejected the credential (%d); re-authorize", code)
	case code == http.StatusTooManyRequests:
		upstreamCalls.WithLabelValues(op, "rate_limited").Inc()
		pe := problems.New(problems.RateLimited, "upstream rate limit reached")
		pe.RetryAfter = retryAfter(resp.Header().Get("Retry-After"))
		return pe
	case code == http.StatusNotFound:
		upstreamCalls.WithLabelValues(op, "not_found").Inc()
		return problems.New(problems.NotFound, "upstream resource not found")
	case code >= 500:
		upstreamCalls.WithLabelValues(op, "unavailable").Inc()
		return problems.New(problems.UpstreamUnavailable, "upstream error (%d)", code)
	default:
		upstreamCalls.WithLabelValues(op, "rejected").Inc()
		return problems.New(problems.InvalidRequest, "upstream rejected request (%d): %s", code, snippet(resp.Body()))
	}
}

// retryAfter accepts delta-seconds, fractional seconds or an HTTP date.
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		d := time.Duration(f * float64(time.Second))
		if d < time.Second {
			d = time.Second
		}
		return d.Round(time.Second)
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	s, _ := json.Marshal(string(b))
	return s
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
