package api

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mkatan/inkwell/internal/history"
	"github.com/mkatan/inkwell/internal/storage"
)

// --- helpers ---

func newTestDeps(t *testing.T) MCPDeps {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"raw", "processed", "index"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	store, err := storage.Open(
		filepath.Join(root, "raw"),
		filepath.Join(root, "processed"),
		filepath.Join(root, "index"),
	)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}

	hist, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("opening history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	return MCPDeps{Store: store, History: hist, Version: "test"}
}

func writeRawFile(t *testing.T, deps MCPDeps, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(deps.Store.RawDir(), name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_ListRawFiles(t *testing.T) {
	deps := newTestDeps(t)
	writeRawFile(t, deps, "a.txt", "hello")
	writeRawFile(t, deps, "b.md", "world")

	handler := mcpListRawFiles(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_raw_files", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.Contains(text, "Found 2 raw files") {
		t.Errorf("unexpected header: %s", text)
	}
	if !strings.Contains(text, "a.txt") || !strings.Contains(text, "b.md") {
		t.Errorf("file names missing from listing: %s", text)
	}
}

func TestMCPTool_ReadRawFile(t *testing.T) {
	deps := newTestDeps(t)
	writeRawFile(t, deps, "note.txt", "meeting at noon")

	handler := mcpReadRawFile(deps)
	result, err := handler(context.Background(), makeCallToolRequest("read_raw_file", map[string]interface{}{
		"filename": "note.txt",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "meeting at noon" {
		t.Errorf("content = %q, want file bytes", got)
	}
}

func TestMCPTool_ReadRawFileTraversal(t *testing.T) {
	deps := newTestDeps(t)

	handler := mcpReadRawFile(deps)
	result, err := handler(context.Background(), makeCallToolRequest("read_raw_file", map[string]interface{}{
		"filename": "../../etc/passwd",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("traversal attempt should produce a tool error")
	}
	if !strings.Contains(toolText(t, result), "invalid filename") {
		t.Errorf("error should name the invalid filename cause: %s", toolText(t, result))
	}
}

func TestMCPTool_ReadRawFileMissingArg(t *testing.T) {
	deps := newTestDeps(t)

	handler := mcpReadRawFile(deps)
	result, err := handler(context.Background(), makeCallToolRequest("read_raw_file", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("missing filename should produce a tool error")
	}
}

func TestMCPTool_GetDocumentInfo(t *testing.T) {
	deps := newTestDeps(t)
	writeRawFile(t, deps, "note.txt", "content")
	if _, err := deps.Store.Reconcile(); err != nil {
		t.Fatal(err)
	}

	handler := mcpGetDocumentInfo(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_document_info", map[string]interface{}{
		"filename": "note.txt",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var doc storage.DocumentMetadata
	if err := json.Unmarshal([]byte(toolText(t, result)), &doc); err != nil {
		t.Fatalf("result is not a metadata record: %v", err)
	}
	if doc.Filename != "note.txt" || doc.ContentHash == "" {
		t.Errorf("unexpected record: %+v", doc)
	}
}

func TestMCPTool_GetDocumentInfoUnknown(t *testing.T) {
	deps := newTestDeps(t)

	handler := mcpGetDocumentInfo(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_document_info", map[string]interface{}{
		"filename": "ghost.txt",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("unknown document should produce a tool error")
	}
}

func TestMCPTool_CheckFilesNeedingProcessing(t *testing.T) {
	deps := newTestDeps(t)

	handler := mcpCheckFilesNeedingProcessing(deps)
	result, err := handler(context.Background(), makeCallToolRequest("check_files_needing_processing", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); !strings.Contains(got, "up to date") {
		t.Errorf("empty collection should report up to date, got: %s", got)
	}

	writeRawFile(t, deps, "new.txt", "fresh")
	result, err = handler(context.Background(), makeCallToolRequest("check_files_needing_processing", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := toolText(t, result)
	if !strings.Contains(got, "1 files needing processing") || !strings.Contains(got, "new.txt") {
		t.Errorf("pending file missing from report: %s", got)
	}
}

func TestMCPTool_ReconcileDocuments(t *testing.T) {
	deps := newTestDeps(t)
	writeRawFile(t, deps, "a.txt", "hello")

	handler := mcpReconcileDocuments(deps)
	result, err := handler(context.Background(), makeCallToolRequest("reconcile_documents", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); !strings.Contains(got, "1 created") {
		t.Errorf("report missing created count: %s", got)
	}

	if _, err := deps.Store.GetDocumentInfo("a.txt"); err != nil {
		t.Errorf("record should exist after reconcile: %v", err)
	}

	runs, err := deps.History.RecentRuns(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Source != "mcp" {
		t.Errorf("reconcile run not recorded with mcp source: %+v", runs)
	}
}

func TestMCPTool_GetServerStatus(t *testing.T) {
	deps := newTestDeps(t)
	writeRawFile(t, deps, "a.txt", "hello")

	handler := mcpGetServerStatus(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_server_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	for _, want := range []string{"Raw Files: 1", "Processed Files: 0", "Files Needing Processing: 1", "Metadata: ok"} {
		if !strings.Contains(text, want) {
			t.Errorf("status missing %q:\n%s", want, text)
		}
	}
}

func TestMCPResource_Metadata(t *testing.T) {
	deps := newTestDeps(t)
	writeRawFile(t, deps, "a.txt", "hello")
	if _, err := deps.Store.Reconcile(); err != nil {
		t.Fatal(err)
	}

	handler := mcpResourceMetadata(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("docs://metadata"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var docs []storage.DocumentMetadata
	if err := json.Unmarshal([]byte(text.Text), &docs); err != nil {
		t.Fatalf("resource is not a JSON document list: %v", err)
	}
	if len(docs) != 1 || docs[0].Filename != "a.txt" {
		t.Errorf("unexpected documents: %+v", docs)
	}
}

func TestMCPResource_Status(t *testing.T) {
	deps := newTestDeps(t)

	handler := mcpResourceStatus(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("docs://status"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := contents[0].(mcp.TextResourceContents)
	var status storage.Status
	if err := json.Unmarshal([]byte(text.Text), &status); err != nil {
		t.Fatalf("resource is not a JSON status: %v", err)
	}
	if !status.MetadataHealthy {
		t.Error("fresh store should be healthy")
	}
}
