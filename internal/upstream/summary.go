package upstream

import (
	"encoding/json"

	jmes "github.com/jmespath/go-jmespath"
)

var shopSummaryExpr = jmes.MustCompile(`shop.{name: name, domain: domain, myshopify_domain: myshopify_domain, email: email, currency: currency, plan: plan_name, timezone: iana_timezone, country: country_code}`)

// ShopSummary projects a shop.json document onto a fixed set of fields.
// It returns nil when the document cannot be read.
func ShopSummary(raw json.RawMessage) map[string]any {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	v, err := shopSummaryExpr.Search(doc)
	if err != nil {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

// ShopName returns the shop's display name, or "" when unknown.
func ShopName(resp *Response) string {
	if resp == nil || resp.Summary == nil {
		return ""
	}
	s, _ := resp.Summary["name"].(string)
	return s
}
