package policy

import (
	"strings"
	"testing"

	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/registry"
)

func boolPtr(b bool) *bool { return &b }

func enabledPolicy(cfg domain.PolicyConfig) *domain.Policy {
	return &domain.Policy{OrganizationID: "org-1", Enabled: true, Config: cfg}
}

func TestUnknownToolDenied(t *testing.T) {
	e := NewEngine(registry.New())
	d := e.Evaluate(enabledPolicy(domain.PolicyConfig{}), domain.CommandRequest{Tool: "launch_rocket"}, "", "")
	if d.Allowed {
		t.Fatal("unknown tool must be denied")
	}
	if d.Reason != "unsupported_tool:launch_rocket" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestMissingPolicyDenied(t *testing.T) {
	e := NewEngine(registry.New())

	d := e.Evaluate(nil, domain.CommandRequest{Tool: "read_page"}, "", "")
	if d.Allowed || d.Reason != "policy_disabled" {
		t.Fatalf("nil policy must deny with policy_disabled, got allowed=%v reason=%s", d.Allowed, d.Reason)
	}

	disabled := &domain.Policy{OrganizationID: "org-1", Enabled: false}
	d = e.Evaluate(disabled, domain.CommandRequest{Tool: "read_page"}, "", "")
	if d.Allowed || d.Reason != "policy_disabled" {
		t.Fatalf("disabled policy must deny, got allowed=%v reason=%s", d.Allowed, d.Reason)
	}
}

func TestHighRiskAlwaysRequiresConfirmation(t *testing.T) {
	e := NewEngine(registry.New())
	// Политика намеренно ничего не говорит про подтверждения
	pol := enabledPolicy(domain.PolicyConfig{AutoApproveReadOnly: true})

	for _, tool := range []string{"click", "submit_form", "post_erp_transaction", "approve_payment"} {
		d := e.Evaluate(pol, domain.CommandRequest{Tool: tool}, "", "")
		if !d.Allowed {
			t.Fatalf("%s: expected allowed, reason=%s", tool, d.Reason)
		}
		if !d.RequiresConfirmation {
			t.Fatalf("%s: high_risk tool must require confirmation regardless of policy", tool)
		}
	}
}

func TestReadOnlyAutoApprove(t *testing.T) {
	e := NewEngine(registry.New())

	pol := enabledPolicy(domain.PolicyConfig{
		AutoApproveReadOnly:    true,
		RequireConfirmationFor: []string{"navigate"},
	})

	d := e.Evaluate(pol, domain.CommandRequest{Tool: "screenshot"}, "", "")
	if !d.Allowed || d.RequiresConfirmation {
		t.Fatalf("read_only with auto approve must pass without confirmation: %+v", d)
	}

	d = e.Evaluate(pol, domain.CommandRequest{Tool: "navigate"}, "", "")
	if !d.RequiresConfirmation {
		t.Fatal("explicitly listed mutating tool must require confirmation")
	}
}

func TestBlockedTool(t *testing.T) {
	e := NewEngine(registry.New())
	pol := enabledPolicy(domain.PolicyConfig{BlockedTools: []string{"send_email"}})

	d := e.Evaluate(pol, domain.CommandRequest{Tool: "send_email"}, "", "")
	if d.Allowed {
		t.Fatal("blocked tool must be denied")
	}
	if d.Reason != "blocked_action:send_email" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestDomainAllowList(t *testing.T) {
	e := NewEngine(registry.New())
	pol := enabledPolicy(domain.PolicyConfig{AllowedDomains: []string{"mail.google.com"}})

	d := e.Evaluate(pol, domain.CommandRequest{Tool: "read_page", Target: "https://mail.google.com/inbox"}, "", "")
	if !d.Allowed {
		t.Fatalf("allow-listed host denied: %s", d.Reason)
	}
	if d.Host != "mail.google.com" {
		t.Fatalf("host not extracted: %q", d.Host)
	}

	d = e.Evaluate(pol, domain.CommandRequest{Tool: "read_page", Target: "https://evil.example.com/login"}, "", "")
	if d.Allowed {
		t.Fatal("host outside allow-list must be denied")
	}
	if d.Reason != "blocked_domain:evil.example.com" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}

	// Пустой allow-лист — ограничение не активно
	open := enabledPolicy(domain.PolicyConfig{})
	d = e.Evaluate(open, domain.CommandRequest{Tool: "read_page", Target: "https://anything.example.org/"}, "", "")
	if !d.Allowed {
		t.Fatalf("empty allow-list must not restrict domains: %s", d.Reason)
	}
}

func TestTargetFromParamsURL(t *testing.T) {
	e := NewEngine(registry.New())
	pol := enabledPolicy(domain.PolicyConfig{AllowedDomains: []string{"erp.internal"}})

	req := domain.CommandRequest{Tool: "navigate", Params: map[string]any{"url": "https://erp.internal/form"}}
	d := e.Evaluate(pol, req, "", "")
	if !d.Allowed || d.Host != "erp.internal" {
		t.Fatalf("params url must be honored: %+v", d)
	}
}

func TestInvalidTargetURL(t *testing.T) {
	e := NewEngine(registry.New())
	pol := enabledPolicy(domain.PolicyConfig{AllowedDomains: []string{"x.com"}})

	d := e.Evaluate(pol, domain.CommandRequest{Tool: "read_page", Target: "not a url"}, "", "")
	if d.Allowed || d.Reason != "invalid_url" {
		t.Fatalf("garbage url must deny with invalid_url, got %+v", d)
	}
}

func TestMatchDomainWildcard(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"*.example.com", "a.example.com", true},
		{"*.example.com", "b.a.example.com", true},
		{"*.example.com", "example.com", false},
		{"*.example.com", "notexample.com", false},
		{"example.com", "example.com", true},
		{"example.com", "a.example.com", false},
		{"*.Example.COM", "A.EXAMPLE.com", true},
		{"", "example.com", false},
	}
	for _, c := range cases {
		if got := MatchDomain(c.pattern, c.host); got != c.want {
			t.Errorf("MatchDomain(%q, %q) = %v, want %v", c.pattern, c.host, got, c.want)
		}
	}
}

func TestScopeMergeUnionAndOverrides(t *testing.T) {
	cfg := domain.PolicyConfig{
		AllowedDomains:      []string{"base.com"},
		BlockedTools:        []string{"send_email"},
		AutoApproveReadOnly: false,
		WorkflowOverrides: map[string]domain.PolicyOverride{
			"wf-close": {
				AllowedDomains:      []string{"wf.com"},
				AutoApproveReadOnly: boolPtr(true),
			},
		},
		RoleOverrides: map[string]domain.PolicyOverride{
			"junior": {
				BlockedTools:        []string{"approve_payment"},
				AutoApproveReadOnly: boolPtr(false),
			},
		},
	}

	s := ResolveScope(cfg, "junior", "wf-close")

	// Set-поля — объединение базы и оверрайдов
	if len(s.AllowedDomains) != 2 || s.AllowedDomains[0] != "base.com" || s.AllowedDomains[1] != "wf.com" {
		t.Fatalf("allowed domains union broken: %v", s.AllowedDomains)
	}
	if !s.BlockedTools["send_email"] || !s.BlockedTools["approve_payment"] {
		t.Fatalf("blocked tools union broken: %v", s.BlockedTools)
	}
	// Скаляр перекрывается последним оверрайдом: workflow=true, затем role=false
	if s.AutoApproveReadOnly {
		t.Fatal("role override must win over workflow override for scalars")
	}
	if s.Label != "workflow:wf-close,role:junior" {
		t.Fatalf("unexpected scope label: %s", s.Label)
	}
}

func TestScopeLabelDefault(t *testing.T) {
	s := ResolveScope(domain.PolicyConfig{}, "unknown-role", "unknown-wf")
	if s.Label != "default" {
		t.Fatalf("missing overrides must yield default label, got %s", s.Label)
	}
}

func TestDecisionScopeSurfacedInReason(t *testing.T) {
	e := NewEngine(registry.New())
	pol := enabledPolicy(domain.PolicyConfig{
		RoleOverrides: map[string]domain.PolicyOverride{
			"auditor": {RequireConfirmationFor: []string{"download_document"}},
		},
	})

	d := e.Evaluate(pol, domain.CommandRequest{Tool: "download_document"}, "auditor", "")
	if !d.Allowed || !d.RequiresConfirmation {
		t.Fatalf("role override must add confirmation: %+v", d)
	}
	if !strings.Contains(d.Scope, "role:auditor") {
		t.Fatalf("scope must name contributing override: %s", d.Scope)
	}
}
