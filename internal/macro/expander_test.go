package macro

import (
	"errors"
	"testing"

	"github.com/xela07ax/aag-core/internal/domain"
)

func TestUnknownMacro(t *testing.T) {
	e := NewExpander()
	_, err := e.Expand("reconcile_galaxy", nil, "corr-1")
	if !errors.Is(err, domain.ErrMacroNotSupported) {
		t.Fatalf("expected ErrMacroNotSupported, got %v", err)
	}
}

func TestCaptureInvoiceContextWithoutPortal(t *testing.T) {
	e := NewExpander()
	reqs, err := e.Expand("capture_invoice_context", map[string]any{
		"page_url": "https://erp.internal/invoice/42",
	}, "corr-1")
	if err != nil {
		t.Fatal(err)
	}

	// Опциональный шаг портала без portal_url не включается
	if len(reqs) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(reqs))
	}

	wantTools := []string{"read_page", "extract_fields", "locate_element", "screenshot"}
	for i, req := range reqs {
		if req.Tool != wantTools[i] {
			t.Fatalf("step %d: tool %s, want %s", i, req.Tool, wantTools[i])
		}
		if req.CorrelationID != "corr-1" {
			t.Fatalf("step %d: correlation id not inherited", i)
		}
	}

	if reqs[0].Target != "https://erp.internal/invoice/42" {
		t.Fatalf("first step must carry page url, got %q", reqs[0].Target)
	}
	if len(reqs[0].DependsOn) != 0 {
		t.Fatal("root step must have no dependencies")
	}
	// depends_on ссылается на имена шагов, не на command_id
	if reqs[1].DependsOn[0] != "read_context" {
		t.Fatalf("extract step must depend on read_context, got %v", reqs[1].DependsOn)
	}
}

func TestCaptureInvoiceContextOptionalPortal(t *testing.T) {
	e := NewExpander()
	reqs, err := e.Expand("capture_invoice_context", map[string]any{
		"page_url":   "https://erp.internal/invoice/42",
		"portal_url": "https://portal.vendor.example/",
	}, "corr-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 5 {
		t.Fatalf("expected 5 steps with portal branch, got %d", len(reqs))
	}

	last := reqs[len(reqs)-1]
	if last.Tool != "read_page" || last.Target != "https://portal.vendor.example/" {
		t.Fatalf("portal step malformed: %+v", last)
	}
	if len(last.DependsOn) != 1 || last.DependsOn[0] != "read_context" {
		t.Fatalf("portal branch must hang off the root read, got %v", last.DependsOn)
	}
}

func TestPostInvoiceToERPShape(t *testing.T) {
	e := NewExpander()
	reqs, err := e.Expand("post_invoice_to_erp", map[string]any{
		"erp_url": "https://erp.internal/post",
		"fields":  map[string]any{"amount": "120.00"},
	}, "corr-3")
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(reqs))
	}
	// Подтверждающий клик — high_risk середина цепочки
	if reqs[2].Tool != "click" {
		t.Fatalf("third step must be the confirming click, got %s", reqs[2].Tool)
	}
	if reqs[2].DependsOn[0] != "fill_invoice_form" {
		t.Fatalf("click must depend on form fill, got %v", reqs[2].DependsOn)
	}
	if reqs[3].Tool != "screenshot" || reqs[3].DependsOn[0] != "submit_posting" {
		t.Fatalf("evidence screenshot must follow the submit, got %+v", reqs[3])
	}
}

func TestDeterministicCommandIDs(t *testing.T) {
	e := NewExpander()

	a, err := e.Expand("fetch_vendor_statement", map[string]any{"portal_url": "https://p.example/"}, "corr-9")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Expand("fetch_vendor_statement", map[string]any{"portal_url": "https://p.example/"}, "corr-9")

	for i := range a {
		if a[i].CommandID == "" {
			t.Fatalf("step %d: empty command id", i)
		}
		if a[i].CommandID != b[i].CommandID {
			t.Fatalf("step %d: command id not deterministic: %s vs %s", i, a[i].CommandID, b[i].CommandID)
		}
	}
	if a[0].CommandID != "fetch_vendor_statement:corr-9:open_portal" {
		t.Fatalf("unexpected command id format: %s", a[0].CommandID)
	}
}

func TestSupportedCatalog(t *testing.T) {
	e := NewExpander()
	names := e.Supported()
	if len(names) != 3 {
		t.Fatalf("expected 3 macros, got %v", names)
	}
	for _, name := range names {
		if _, err := e.Expand(name, map[string]any{}, "corr"); err != nil {
			t.Fatalf("supported macro %s must expand: %v", name, err)
		}
	}
}
