package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Operation represents a single HTTP operation to surface in OpenAPI.
type Operation struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	OperationID string         `json:"operationId,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Merchant    bool           `json:"-"` // requires X-Merchant-Id
	Scopes      []string       `json:"x-required-scopes,omitempty"`
	Parameters  []Parameter    `json:"parameters,omitempty"`
	RequestBody any            `json:"requestBody,omitempty"`
	Responses   map[string]any `json:"responses"`
}

type Parameter struct {
	Name     string `json:"name"`
	In       string `json:"in"`
	Required bool   `json:"required,omitempty"`
	Schema   any    `json:"schema"`
}

// Registry holds the gateway's registered operations.
type Registry struct {
	Ops []Operation
}

func NewRegistry() *Registry { return &Registry{Ops: []Operation{}} }

func (r *Registry) Register(op Operation) {
	op.Method = strings.ToLower(op.Method)
	r.Ops = append(r.Ops, op)
}

// Problem is the shared problem+json response entry.
func Problem(desc string) map[string]any {
	return map[string]any{
		"description": desc,
		"content": map[string]any{
			"application/problem+json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/Problem"}},
		},
	}
}

// Build produces an OpenAPI 3.1 document of the registered operations.
func (r *Registry) Build(serviceName, version string) map[string]any {
	paths := map[string]any{}
	for _, op := range r.Ops {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		m := map[string]any{
			"summary":   op.Summary,
			"tags":      op.Tags,
			"responses": op.Responses,
		}
		if op.OperationID != "" {
			m["operationId"] = op.OperationID
		}
		if len(op.Scopes) > 0 {
			m["x-required-scopes"] = op.Scopes
		}
		if len(op.Parameters) > 0 {
			m["parameters"] = op.Parameters
		}
		if op.RequestBody != nil {
			m["requestBody"] = op.RequestBody
		}
		if op.Merchant {
			m["security"] = []map[string]any{{"merchant": []string{}}}
		} else {
			m["security"] = []map[string]any{}
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	tags := map[string]bool{}
	for _, op := range r.Ops {
		for _, t := range op.Tags {
			tags[t] = true
		}
	}
	tagList := make([]map[string]string, 0, len(tags))
	for t := range tags {
		tagList = append(tagList, map[string]string{"name": t})
	}
	sort.Slice(tagList, func(i, j int) bool { return tagList[i]["name"] < tagList[j]["name"] })

	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"tags":    tagList,
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"merchant": map[string]any{
					"type": "apiKey",
					"in":   "header",
					"name": "X-Merchant-Id",
				},
				"bearer": map[string]any{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
			"schemas": map[string]any{
				"Problem": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":      map[string]string{"type": "string"},
						"title":     map[string]string{"type": "string"},
						"status":    map[string]string{"type": "integer"},
						"code":      map[string]string{"type": "string"},
						"detail":    map[string]string{"type": "string"},
						"retryable": map[string]string{"type": "boolean"},
					},
				},
			},
		},
	}
}

// ServeHandler returns an HTTP handler that serves the built OpenAPI JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}
