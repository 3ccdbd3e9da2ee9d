// Package policy evaluates capability-based command authorization with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given rego module content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.command_policy.decision"),
		rego.Module("command_policy.rego", policyContent),
		rego.SetRegoVersion(ast.RegoV1),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the command policy.
// Input is a map with keys: node_id, command_type, capabilities.
// Returns: decision (allow, deny), reason (optional), error.
func (e *Engine) Evaluate(ctx context.Context, input any) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy is expected to define a default decision.
		return "deny", "no decision produced", nil
	}

	val := results[0].Expressions[0].Value
	if s, ok := val.(string); ok {
		return s, "", nil
	}
	if m, ok := val.(map[string]any); ok {
		decision, _ := m["decision"].(string)
		reason, _ := m["reason"].(string)
		if decision != "" {
			return decision, reason, nil
		}
	}
	return "deny", "unexpected policy return type", nil
}

// Authorize adapts Evaluate to the dispatcher's policy check. A non-allow
// decision maps to domain.ErrCommandDenied.
func (e *Engine) Authorize(ctx context.Context, nodeID, commandType string, capabilities []string) error {
	if capabilities == nil {
		capabilities = []string{}
	}
	input := map[string]any{
		"node_id":      nodeID,
		"command_type": commandType,
		"capabilities": capabilities,
	}
	decision, reason, err := e.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	if decision != "allow" {
		if reason != "" {
			return fmt.Errorf("%w: %s (%s)", domain.ErrCommandDenied, commandType, reason)
		}
		return fmt.Errorf("%w: %s", domain.ErrCommandDenied, commandType)
	}
	return nil
}

// DefaultPolicy maps command types to the capability a node must have
// reported at registration. Unknown command types are denied.
const DefaultPolicy = `
package command_policy

default decision := "deny"

required_capability := {
	"server_start": "server:power",
	"server_stop": "server:power",
	"server_restart": "server:power",
	"server_install": "server:install",
	"server_delete": "server:install",
	"fetch_logs": "server:logs",
}

decision := "allow" if {
	cap := required_capability[input.command_type]
	cap in input.capabilities
}
`
