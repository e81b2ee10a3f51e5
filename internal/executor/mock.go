package executor

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockBrowserProvider — имитация браузерного исполнителя для локальной
// разработки и демо: задержка 50-300мс и правдоподобные ответы.
type MockBrowserProvider struct{}

func (c *MockBrowserProvider) Call(ctx context.Context, tool string, payload map[string]any) (map[string]any, error) {
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch tool {
	case "read_page":
		return map[string]any{"status": "ok", "text_length": 4096}, nil
	case "extract_fields":
		return map[string]any{"status": "ok", "fields": map[string]any{"invoice_number": "INV-1042", "total": 1250.00}}, nil
	case "locate_element":
		return map[string]any{"status": "ok", "selector": "#po-reference"}, nil
	case "screenshot":
		return map[string]any{"status": "ok", "artifact": "s3://evidence/shot.png"}, nil
	case "download_document":
		return map[string]any{"status": "ok", "artifact": "s3://statements/stmt.pdf"}, nil
	case "navigate", "type_text", "fill_form", "select_option", "upload_document":
		return map[string]any{"status": "ok"}, nil
	case "click", "submit_form":
		return map[string]any{"status": "ok", "dom_changed": true}, nil
	case "post_erp_transaction":
		return map[string]any{"status": "posted", "document_id": "ERP-77013"}, nil
	case "unstable.tool":
		return nil, fmt.Errorf("executor internal error")
	default:
		return nil, fmt.Errorf("tool %s not supported by executor", tool)
	}
}
