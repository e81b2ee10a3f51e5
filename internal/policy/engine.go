// Package policy реализует PDP (Policy Decision Point) ядра:
// чистую функцию авторизации команды против политики тенанта
// и метаданных Tool Registry. Никаких побочных эффектов — вся
// логика проверяется табличными юнит-тестами.
package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/registry"
)

// Decision — результат авторизации. Отказ — это не ошибка, а нормальный
// аудируемый исход: reason машиночитаем и уходит в AuditEvent и в UI.
type Decision struct {
	Allowed              bool              `json:"allowed"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
	Reason               string            `json:"reason"`
	Scope                string            `json:"scope"` // Какие скоупы внесли вклад: "workflow:x,role:y" или "default"
	ToolRisk             registry.ToolRisk `json:"tool_risk"`
	ToolCategory         string            `json:"tool_category"`
	Host                 string            `json:"host,omitempty"`
}

type Engine struct {
	reg *registry.Registry
}

func NewEngine(reg *registry.Registry) *Engine {
	return &Engine{reg: reg}
}

// Evaluate — авторизация одной команды. Чистая функция от
// (снапшот политики, каталог, команда): безопасно звать из Preview.
func (e *Engine) Evaluate(pol *domain.Policy, req domain.CommandRequest, actorRole, workflowID string) Decision {
	// 1. Инструмент должен быть известен каталогу
	meta, ok := e.reg.Lookup(req.Tool)
	if !ok {
		return Decision{Reason: "unsupported_tool:" + req.Tool, Scope: "default"}
	}

	d := Decision{
		ToolRisk:     meta.Risk,
		ToolCategory: meta.Category,
		Scope:        "default",
	}

	// 2. Отключенная (или отсутствующая) политика — запрет. Zero Trust:
	// отсутствие записи тенанта трактуем так же, как enabled=false.
	if pol == nil || !pol.Enabled {
		d.Reason = "policy_disabled"
		return d
	}

	// 3. Эффективный скоуп: база -> workflow -> role
	scope := ResolveScope(pol.Config, actorRole, workflowID)
	d.Scope = scope.Label

	// 4. Блок-лист инструментов
	if scope.BlockedTools[req.Tool] {
		d.Reason = "blocked_action:" + req.Tool
		return d
	}

	// 5. Allow-list доменов (если задан)
	if target := req.TargetURL(); target != "" {
		host, err := extractHost(target)
		if err != nil {
			d.Reason = "invalid_url"
			return d
		}
		d.Host = host
		if len(scope.AllowedDomains) > 0 && !hostAllowed(scope.AllowedDomains, host) {
			d.Reason = "blocked_domain:" + host
			return d
		}
	}

	// 6. Подтверждение человеком
	requires := scope.RequireConfirmationFor[req.Tool]
	switch {
	case meta.Risk == registry.RiskHighRisk:
		// high_risk подтверждается всегда, что бы ни говорила политика
		requires = true
	case meta.Risk == registry.RiskReadOnly && !requires && scope.AutoApproveReadOnly:
		requires = false
	}

	d.Allowed = true
	d.RequiresConfirmation = requires
	d.Reason = "allowed"
	return d
}

// EffectiveScope — смерженный набор правил для (tenant, role, workflow).
type EffectiveScope struct {
	AllowedDomains         []string
	BlockedTools           map[string]bool
	RequireConfirmationFor map[string]bool
	AutoApproveReadOnly    bool
	Label                  string
}

// ResolveScope выполняет явный union-merge: set-поля объединяются,
// скаляры перекрываются последним оверрайдом (сначала workflow, затем role).
// Семантика независима от порядка ключей в конфиге — только от порядка
// применения оверрайдов, зафиксированного здесь.
func ResolveScope(cfg domain.PolicyConfig, actorRole, workflowID string) EffectiveScope {
	s := EffectiveScope{
		AllowedDomains:         append([]string(nil), cfg.AllowedDomains...),
		BlockedTools:           toSet(cfg.BlockedTools),
		RequireConfirmationFor: toSet(cfg.RequireConfirmationFor),
		AutoApproveReadOnly:    cfg.AutoApproveReadOnly,
	}

	var labels []string
	if workflowID != "" {
		if ov, ok := cfg.WorkflowOverrides[workflowID]; ok {
			s.apply(ov)
			labels = append(labels, "workflow:"+workflowID)
		}
	}
	if actorRole != "" {
		if ov, ok := cfg.RoleOverrides[actorRole]; ok {
			s.apply(ov)
			labels = append(labels, "role:"+actorRole)
		}
	}

	if len(labels) == 0 {
		s.Label = "default"
	} else {
		s.Label = strings.Join(labels, ",")
	}
	return s
}

func (s *EffectiveScope) apply(ov domain.PolicyOverride) {
	s.AllowedDomains = unionList(s.AllowedDomains, ov.AllowedDomains)
	for _, t := range ov.BlockedTools {
		s.BlockedTools[t] = true
	}
	for _, t := range ov.RequireConfirmationFor {
		s.RequireConfirmationFor[t] = true
	}
	if ov.AutoApproveReadOnly != nil {
		s.AutoApproveReadOnly = *ov.AutoApproveReadOnly
	}
}

// MatchDomain проверяет host против паттерна allow-листа.
// "*.example.com" матчит "a.example.com" и "b.a.example.com",
// но не сам "example.com" и не "notexample.com".
func MatchDomain(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	host = strings.ToLower(host)
	if pattern == "" || host == "" {
		return false
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return pattern == host
}

func hostAllowed(patterns []string, host string) bool {
	for _, p := range patterns {
		if MatchDomain(p, host) {
			return true
		}
	}
	return false
}

func extractHost(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url has no host: %s", raw)
	}
	return host, nil
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, v := range list {
		m[v] = true
	}
	return m
}

func unionList(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, v := range base {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range extra {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
