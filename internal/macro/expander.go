// Package macro раскрывает именованные макросы в упорядоченные наборы
// команд с явными ребрами depends_on. Макрос — чистая функция
// (имя, параметры) -> шаблоны команд; он не персистится и компилируется
// заново на каждый вызов DispatchMacro.
package macro

import (
	"fmt"

	"github.com/xela07ax/aag-core/internal/domain"
)

// Step — один шаг шаблона до привязки к сессии.
type Step struct {
	Name         string // Имя шага, на него ссылаются depends_on
	Tool         string
	Target       string
	Params       map[string]any
	DependsOn    []string
	Optional     bool   // Шаг включается только при наличии параметра
	RequireParam string // Имя параметра, включающего опциональный шаг
}

// Expander — каталог поддерживаемых макросов.
type Expander struct{}

func NewExpander() *Expander {
	return &Expander{}
}

// Expand компилирует макрос в упорядоченный список CommandRequest.
// Каждый шаг наследует correlation_id макроса; порядок списка — это
// топологический порядок DAG (шаблоны линейны либо ветвятся от корня,
// циклов нет по построению).
func (e *Expander) Expand(macroName string, params map[string]any, correlationID string) ([]domain.CommandRequest, error) {
	if params == nil {
		params = map[string]any{}
	}

	var steps []Step
	switch macroName {
	case "capture_invoice_context":
		steps = captureInvoiceContext(params)
	case "post_invoice_to_erp":
		steps = postInvoiceToERP(params)
	case "fetch_vendor_statement":
		steps = fetchVendorStatement(params)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrMacroNotSupported, macroName)
	}

	out := make([]domain.CommandRequest, 0, len(steps))
	for _, st := range steps {
		if st.Optional {
			if _, ok := stringParam(params, st.RequireParam); !ok {
				continue
			}
		}
		out = append(out, domain.CommandRequest{
			CommandID:     commandID(macroName, st.Name, correlationID),
			Tool:          st.Tool,
			Target:        st.Target,
			Params:        st.Params,
			CorrelationID: correlationID,
			DependsOn:     st.DependsOn,
		})
	}
	return out, nil
}

// Supported возвращает имена известных макросов (для превью и админки).
func (e *Expander) Supported() []string {
	return []string{"capture_invoice_context", "post_invoice_to_erp", "fetch_vendor_statement"}
}

// captureInvoiceContext: прочитать контекст -> извлечь структуру ->
// найти опорный элемент -> снять доказательство; опциональная ветка —
// чтение вторичного вендорского портала, если передан portal_url.
func captureInvoiceContext(params map[string]any) []Step {
	pageURL, _ := stringParam(params, "page_url")
	portalURL, _ := stringParam(params, "portal_url")

	return []Step{
		{
			Name:   "read_context",
			Tool:   "read_page",
			Target: pageURL,
		},
		{
			Name:      "extract_invoice",
			Tool:      "extract_fields",
			Params:    map[string]any{"schema": "invoice_header"},
			DependsOn: []string{"read_context"},
		},
		{
			Name:      "locate_reference",
			Tool:      "locate_element",
			Params:    map[string]any{"selector_hint": params["selector_hint"]},
			DependsOn: []string{"extract_invoice"},
		},
		{
			Name:      "capture_evidence",
			Tool:      "screenshot",
			DependsOn: []string{"locate_reference"},
		},
		{
			Name:         "read_portal",
			Tool:         "read_page",
			Target:       portalURL,
			DependsOn:    []string{"read_context"},
			Optional:     true,
			RequireParam: "portal_url",
		},
	}
}

// postInvoiceToERP: навигация к форме -> заполнение -> подтверждающий клик
// (high_risk) -> доказательный скриншот результата.
func postInvoiceToERP(params map[string]any) []Step {
	erpURL, _ := stringParam(params, "erp_url")

	return []Step{
		{
			Name:   "open_erp_form",
			Tool:   "navigate",
			Target: erpURL,
		},
		{
			Name:      "fill_invoice_form",
			Tool:      "fill_form",
			Params:    map[string]any{"fields": params["fields"]},
			DependsOn: []string{"open_erp_form"},
		},
		{
			Name:      "submit_posting",
			Tool:      "click",
			Params:    map[string]any{"element": "submit"},
			DependsOn: []string{"fill_invoice_form"},
		},
		{
			Name:      "capture_confirmation",
			Tool:      "screenshot",
			DependsOn: []string{"submit_posting"},
		},
	}
}

// fetchVendorStatement: навигация на портал вендора и выгрузка выписки.
func fetchVendorStatement(params map[string]any) []Step {
	portalURL, _ := stringParam(params, "portal_url")

	return []Step{
		{
			Name:   "open_portal",
			Tool:   "navigate",
			Target: portalURL,
		},
		{
			Name:      "download_statement",
			Tool:      "download_document",
			Params:    map[string]any{"document": "statement", "period": params["period"]},
			DependsOn: []string{"open_portal"},
		},
	}
}

func commandID(macroName, stepName, correlationID string) string {
	// Детерминированный ID: повтор того же dispatch не плодит дубликаты
	return fmt.Sprintf("%s:%s:%s", macroName, correlationID, stepName)
}

func stringParam(params map[string]any, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
