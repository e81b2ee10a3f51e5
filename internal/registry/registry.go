// Package registry содержит статический каталог инструментов (Tool Registry):
// каждой исполняемой способности сопоставлен уровень риска и категория.
// Каталог — чистые данные, компилируется в бинарь и не меняется в рантайме.
package registry

// ToolRisk — градация риска действия. Градация трехуровневая:
// read_only никогда не меняет внешний мир, high_risk всегда требует
// подтверждения человеком независимо от политики тенанта.
type ToolRisk string

const (
	RiskReadOnly ToolRisk = "read_only"
	RiskMutating ToolRisk = "mutating"
	RiskHighRisk ToolRisk = "high_risk"
)

// ToolMeta — метаданные одного инструмента.
type ToolMeta struct {
	Name     string   `json:"name"`
	Risk     ToolRisk `json:"risk"`
	Category string   `json:"category"`
}

// Registry — неизменяемый каталог. Потокобезопасен без блокировок,
// потому что после конструктора мапа только читается.
type Registry struct {
	tools map[string]ToolMeta
}

// New возвращает каталог по умолчанию: браузерные действия агента
// плюс ERP-операции постинга.
func New() *Registry {
	return newFrom(defaultCatalog)
}

func newFrom(list []ToolMeta) *Registry {
	m := make(map[string]ToolMeta, len(list))
	for _, t := range list {
		m[t.Name] = t
	}
	return &Registry{tools: m}
}

// Lookup возвращает метаданные инструмента. ok=false — инструмент
// неизвестен ядру и не может быть авторизован.
func (r *Registry) Lookup(name string) (ToolMeta, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List возвращает копию каталога (для превью и админки).
func (r *Registry) List() []ToolMeta {
	out := make([]ToolMeta, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

var defaultCatalog = []ToolMeta{
	// Чтение: всегда безопасно, политика может автоапрувить
	{Name: "read_page", Risk: RiskReadOnly, Category: "browser.read"},
	{Name: "extract_fields", Risk: RiskReadOnly, Category: "document.extract"},
	{Name: "locate_element", Risk: RiskReadOnly, Category: "browser.read"},
	{Name: "screenshot", Risk: RiskReadOnly, Category: "browser.evidence"},
	{Name: "download_document", Risk: RiskReadOnly, Category: "document.fetch"},

	// Мутации UI: меняют состояние страницы, но не подтверждают бизнес-операцию
	{Name: "navigate", Risk: RiskMutating, Category: "browser.interact"},
	{Name: "type_text", Risk: RiskMutating, Category: "browser.interact"},
	{Name: "fill_form", Risk: RiskMutating, Category: "browser.interact"},
	{Name: "select_option", Risk: RiskMutating, Category: "browser.interact"},
	{Name: "upload_document", Risk: RiskMutating, Category: "document.upload"},

	// Высокий риск: необратимые бизнес-эффекты, подтверждение обязательно
	{Name: "click", Risk: RiskHighRisk, Category: "browser.interact"},
	{Name: "submit_form", Risk: RiskHighRisk, Category: "browser.interact"},
	{Name: "post_erp_transaction", Risk: RiskHighRisk, Category: "erp.write"},
	{Name: "send_email", Risk: RiskHighRisk, Category: "comms.send"},
	{Name: "approve_payment", Risk: RiskHighRisk, Category: "payments.write"},
}
