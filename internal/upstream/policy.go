package upstream

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed policy.rego
var defaultPolicy string

// Policy decides whether a credential's scopes cover an upstream call.
type Policy interface {
	Allow(ctx context.Context, method, path string, scopes []string) (bool, error)
}

// RegoPolicy evaluates data.shopgate.upstream.allow with input
// {method, path, scopes}.
type RegoPolicy struct {
	query rego.PreparedEvalQuery
}

// NewRegoPolicy compiles the module in file, or the built-in policy when
// file is empty.
func NewRegoPolicy(ctx context.Context, file string) (*RegoPolicy, error) {
	src, name := defaultPolicy, "policy.rego"
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read policy: %w", err)
		}
		src, name = string(b), file
	}
	q, err := rego.New(
		rego.Query("data.shopgate.upstream.allow"),
		rego.Module(name, src),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	return &RegoPolicy{query: q}, nil
}

func (p *RegoPolicy) Allow(ctx context.Context, method, path string, scopes []string) (bool, error) {
	if scopes == nil {
		scopes = []string{}
	}
	rs, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{
		"method": method,
		"path":   path,
		"scopes": scopes,
	}))
	if err != nil {
		return false, err
	}
	return rs.Allowed(), nil
}
