package gateway

import "shopgate/pkg/openapi"

func jsonBody(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{"schema": map[string]any{
				"type": "object", "properties": props, "required": required,
			}},
		},
	}
}

var (
	str     = map[string]string{"type": "string"}
	integer = map[string]string{"type": "integer"}
)

func okResp(desc string) map[string]any { return map[string]any{"description": desc} }

// dataResponses are shared by every credential-backed route.
func dataResponses() map[string]any {
	return map[string]any{
		"200": okResp("Upstream payload wrapped in {merchant_id, shop_domain, data, page}"),
		"400": openapi.Problem("Missing merchant header or invalid request"),
		"401": openapi.Problem("Credential revoked by the platform"),
		"403": openapi.Problem("Merchant not authorized"),
		"404": openapi.Problem("Unknown merchant or upstream resource"),
		"429": openapi.Problem("Rate limited by the platform"),
		"503": openapi.Problem("Platform unavailable"),
	}
}

func describe(reg *openapi.Registry) {
	limit := openapi.Parameter{Name: "limit", In: "query", Schema: map[string]any{"type": "integer", "minimum": 1, "maximum": 250}}
	pageInfo := openapi.Parameter{Name: "page_info", In: "query", Schema: str}

	reg.Register(openapi.Operation{
		Method: "POST", Path: "/api/oauth/initiate", OperationID: "oauth.initiate", Tags: []string{"oauth"},
		Summary:     "Start the authorization handshake for a merchant",
		RequestBody: jsonBody(map[string]any{"merchant_id": str, "shop_domain": str}, "shop_domain"),
		Responses: map[string]any{
			"200": okResp("Authorization URL and handshake expiry"),
			"400": openapi.Problem("Invalid merchant or shop domain"),
		},
	})
	reg.Register(openapi.Operation{
		Method: "GET", Path: "/api/oauth/callback", OperationID: "oauth.callback", Tags: []string{"oauth"},
		Summary: "Platform redirect target; exchanges the code and stores the grant",
		Parameters: []openapi.Parameter{
			{Name: "code", In: "query", Required: true, Schema: str},
			{Name: "shop", In: "query", Required: true, Schema: str},
			{Name: "state", In: "query", Required: true, Schema: str},
			{Name: "hmac", In: "query", Schema: str},
			{Name: "timestamp", In: "query", Schema: str},
		},
		Responses: map[string]any{
			"200": okResp("Merchant authorized"),
			"400": openapi.Problem("Invalid, expired or reused state"),
			"502": openapi.Problem("Token exchange failed"),
		},
	})
	reg.Register(openapi.Operation{
		Method: "POST", Path: "/api/oauth/complete", OperationID: "oauth.complete", Tags: []string{"oauth"},
		Summary: "Complete a handshake with callback parameters relayed by a frontend",
		RequestBody: jsonBody(map[string]any{
			"code": str, "shop": str, "state": str, "hmac": str, "timestamp": str, "host": str,
		}, "code", "shop", "state"),
		Responses: map[string]any{
			"200": okResp("Merchant authorized"),
			"400": openapi.Problem("Invalid, expired or reused state"),
			"502": openapi.Problem("Token exchange failed"),
		},
	})
	reg.Register(openapi.Operation{
		Method: "GET", Path: "/api/oauth/status", OperationID: "oauth.status", Tags: []string{"oauth"}, Merchant: true,
		Summary:   "Authorization state of a merchant",
		Responses: map[string]any{"200": okResp("{authorized, shop_domain, scopes, state}"), "400": openapi.Problem("Missing merchant header")},
	})
	reg.Register(openapi.Operation{
		Method: "DELETE", Path: "/api/oauth/authorization", OperationID: "oauth.deactivate", Tags: []string{"oauth"}, Merchant: true,
		Summary:   "Revoke a merchant's stored grant",
		Responses: map[string]any{"204": okResp("Revoked"), "404": openapi.Problem("Unknown merchant")},
	})

	data := []openapi.Operation{
		{Method: "GET", Path: "/api/products", OperationID: "products.list", Summary: "List products", Scopes: []string{"read_products"},
			Parameters: []openapi.Parameter{limit, pageInfo, {Name: "since_id", In: "query", Schema: integer}, {Name: "fields", In: "query", Schema: str}}},
		{Method: "GET", Path: "/api/products/count", OperationID: "products.count", Summary: "Count products", Scopes: []string{"read_products"}},
		{Method: "GET", Path: "/api/products/{id}", OperationID: "products.get", Summary: "Get one product", Scopes: []string{"read_products"},
			Parameters: []openapi.Parameter{{Name: "id", In: "path", Required: true, Schema: integer}}},
		{Method: "GET", Path: "/api/orders", OperationID: "orders.list", Summary: "List orders", Scopes: []string{"read_orders"},
			Parameters: []openapi.Parameter{limit, pageInfo, {Name: "status", In: "query", Schema: str}}},
		{Method: "GET", Path: "/api/customers", OperationID: "customers.list", Summary: "List customers", Scopes: []string{"read_customers"},
			Parameters: []openapi.Parameter{limit, pageInfo}},
		{Method: "GET", Path: "/api/shop", OperationID: "shop.get", Summary: "Shop metadata and summary"},
		{Method: "POST", Path: "/api/proxy", OperationID: "passthrough", Summary: "Forward a guarded call to the merchant's shop",
			RequestBody: jsonBody(map[string]any{"method": str, "path": str, "query": map[string]string{"type": "object"}, "body": map[string]string{"type": "object"}}, "path")},
	}
	for _, op := range data {
		op.Tags = []string{"data"}
		op.Merchant = true
		op.Responses = dataResponses()
		reg.Register(op)
	}
}
