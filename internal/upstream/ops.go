package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"shopgate/pkg/merchants"
	"shopgate/pkg/problems"
)

const (
	DefaultProductLimit = 50
	MaxLimit            = 250
)

var numericID = regexp.MustCompile(`^[0-9]{1,20}$`)

// checkLimit validates an optional limit parameter against 1..MaxLimit.
func checkLimit(q url.Values) error {
	v := q.Get("limit")
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > MaxLimit {
		return problems.New(problems.InvalidRequest, "limit must be between 1 and %d", MaxLimit)
	}
	return nil
}

func cloneQuery(q url.Values) url.Values {
	out := url.Values{}
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// ListProducts forwards filters verbatim. limit defaults to DefaultProductLimit.
func (c *Client) ListProducts(ctx context.Context, cred merchants.Credential, q url.Values) (*Response, error) {
	q = cloneQuery(q)
	if q.Get("limit") == "" && q.Get("page_info") == "" {
		q.Set("limit", strconv.Itoa(DefaultProductLimit))
	}
	if err := checkLimit(q); err != nil {
		return nil, err
	}
	return c.do(ctx, "products.list", cred, http.MethodGet, "/products.json", q, nil)
}

// CountProducts returns the upstream product count.
func (c *Client) CountProducts(ctx context.Context, cred merchants.Credential, q url.Values) (int64, error) {
	resp, err := c.do(ctx, "products.count", cred, http.MethodGet, "/products/count.json", q, nil)
	if err != nil {
		return 0, err
	}
	var body struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return 0, problems.Wrap(problems.UpstreamUnavailable, err, "unexpected count payload")
	}
	return body.Count, nil
}

func (c *Client) GetProduct(ctx context.Context, cred merchants.Credential, id string, q url.Values) (*Response, error) {
	if !numericID.MatchString(id) {
		return nil, problems.New(problems.InvalidRequest, "product id must be numeric")
	}
	return c.do(ctx, "products.get", cred, http.MethodGet, "/products/"+id+".json", q, nil)
}

func (c *Client) ListOrders(ctx context.Context, cred merchants.Credential, q url.Values) (*Response, error) {
	if err := checkLimit(q); err != nil {
		return nil, err
	}
	return c.do(ctx, "orders.list", cred, http.MethodGet, "/orders.json", q, nil)
}

func (c *Client) ListCustomers(ctx context.Context, cred merchants.Credential, q url.Values) (*Response, error) {
	if err := checkLimit(q); err != nil {
		return nil, err
	}
	return c.do(ctx, "customers.list", cred, http.MethodGet, "/customers.json", q, nil)
}

// GetShop returns the shop document plus a flat summary of it.
func (c *Client) GetShop(ctx context.Context, cred merchants.Credential) (*Response, error) {
	resp, err := c.do(ctx, "shop.get", cred, http.MethodGet, "/shop.json", nil, nil)
	if err != nil {
		return nil, err
	}
	resp.Summary = ShopSummary(resp.Body)
	return resp, nil
}

// Passthrough forwards an arbitrary call after the path and method pass
// CheckPassthrough.
func (c *Client) Passthrough(ctx context.Context, cred merchants.Credential, method, path string, q url.Values, body json.RawMessage) (*Response, error) {
	m, err := CheckPassthrough(method, path)
	if err != nil {
		return nil, err
	}
	if m == http.MethodGet || m == http.MethodDelete {
		body = nil
	}
	return c.do(ctx, "passthrough", cred, m, path, q, body)
}
