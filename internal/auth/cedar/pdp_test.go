package cedar

import "testing"

func TestAuthorizationRequestFields(t *testing.T) {
	req := AuthorizationRequest{
		Principal: "client-1",
		Action:    "Invoke",
		Model:     "claude-3-5-sonnet",
		Context:   map[string]any{"tier": "internal"},
	}
	if req.Principal != "client-1" || req.Model != "claude-3-5-sonnet" {
		t.Errorf("req = %+v", req)
	}
}

func TestAuthorizationDecision(t *testing.T) {
	allow := &AuthorizationDecision{Decision: "Allow", Reasons: []string{"policy1"}}
	if allow.Decision != "Allow" {
		t.Errorf("Decision = %q, want Allow", allow.Decision)
	}

	deny := &AuthorizationDecision{Decision: "Deny"}
	if deny.Decision != "Deny" {
		t.Errorf("Decision = %q, want Deny", deny.Decision)
	}
}
