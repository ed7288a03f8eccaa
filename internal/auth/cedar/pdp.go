// Package cedar provides optional per-model authorization: once a caller's
// identity is established (internal/auth JWT verification), Cedar policies
// decide which upstream models that identity may invoke.
package cedar

import (
	"context"
	"fmt"
	"os"

	"github.com/cedar-policy/cedar-go"
	"github.com/cedar-policy/cedar-go/types"
)

// PolicyDecisionPoint evaluates model-invocation requests against Cedar policies.
type PolicyDecisionPoint struct {
	policySet *cedar.PolicySet
}

// AuthorizationRequest is one "may this principal invoke this model" check.
type AuthorizationRequest struct {
	Principal string         `json:"principal"`
	Action    string         `json:"action"`
	Model     string         `json:"model"`
	Context   map[string]any `json:"context,omitempty"`
}

// AuthorizationDecision is the result of one AuthorizationRequest.
type AuthorizationDecision struct {
	Decision string   `json:"decision"` // "Allow" or "Deny"
	Reasons  []string `json:"reasons,omitempty"`
}

// NewPDP creates a policy decision point from a Cedar policy file.
func NewPDP(policyPath string) (*PolicyDecisionPoint, error) {
	policyBytes, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	policySet, err := cedar.NewPolicySetFromBytes(policyPath, policyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing policies: %w", err)
	}

	return &PolicyDecisionPoint{policySet: policySet}, nil
}

// Authorize evaluates one model-invocation request against the loaded policies.
func (p *PolicyDecisionPoint) Authorize(_ context.Context, req AuthorizationRequest) (*AuthorizationDecision, error) {
	action := req.Action
	if action == "" {
		action = "Invoke"
	}

	principal := types.NewEntityUID(types.EntityType("Proxy::Principal"), types.String(req.Principal))
	actionUID := types.NewEntityUID(types.EntityType("Proxy::Action"), types.String(action))
	resource := types.NewEntityUID(types.EntityType("Proxy::Model"), types.String(req.Model))

	entities := types.EntityMap{
		principal: {UID: principal, Attributes: types.Record{}},
		actionUID: {UID: actionUID, Attributes: types.Record{}},
		resource:  {UID: resource, Attributes: types.Record{}},
	}

	cedarReq := types.Request{
		Principal: principal,
		Action:    actionUID,
		Resource:  resource,
	}

	decision, diagnostic := cedar.Authorize(p.policySet, entities, cedarReq)

	result := "Deny"
	if decision == cedar.Allow {
		result = "Allow"
	}

	var reasons []string
	for _, r := range diagnostic.Reasons {
		reasons = append(reasons, string(r.PolicyID))
	}

	return &AuthorizationDecision{Decision: result, Reasons: reasons}, nil
}

// IsModelAllowed reports whether principal may invoke the named model.
func (p *PolicyDecisionPoint) IsModelAllowed(principal, model string) (bool, error) {
	result, err := p.Authorize(context.Background(), AuthorizationRequest{Principal: principal, Model: model})
	if err != nil {
		return false, err
	}
	return result.Decision == "Allow", nil
}
