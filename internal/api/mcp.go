package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mkatan/inkwell/internal/history"
	"github.com/mkatan/inkwell/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	History *history.Log // optional; if nil, reconcile runs are not recorded
	Version string
}

// NewMCPServer creates an MCP server with all document tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"inkwell",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("inkwell manages a handwritten notes collection: browse raw and processed note files and track their processing state."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_raw_files",
			mcp.WithDescription("List all raw handwritten text files available for processing."),
		),
		mcpListRawFiles(deps),
	)

	s.AddTool(
		mcp.NewTool("list_processed_files",
			mcp.WithDescription("List all processed and cleaned text files."),
		),
		mcpListProcessedFiles(deps),
	)

	s.AddTool(
		mcp.NewTool("read_raw_file",
			mcp.WithDescription("Read the content of a raw handwritten text file."),
			mcp.WithString("filename", mcp.Description("Name of the file to read"), mcp.Required()),
		),
		mcpReadRawFile(deps),
	)

	s.AddTool(
		mcp.NewTool("read_processed_file",
			mcp.WithDescription("Read the content of a processed/cleaned text file."),
			mcp.WithString("filename", mcp.Description("Name of the processed file to read"), mcp.Required()),
		),
		mcpReadProcessedFile(deps),
	)

	s.AddTool(
		mcp.NewTool("get_document_info",
			mcp.WithDescription("Get metadata and processing information for a specific document."),
			mcp.WithString("filename", mcp.Description("Name of the document to get info for"), mcp.Required()),
		),
		mcpGetDocumentInfo(deps),
	)

	s.AddTool(
		mcp.NewTool("list_all_documents",
			mcp.WithDescription("List all documents with their metadata and processing status."),
		),
		mcpListAllDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("check_files_needing_processing",
			mcp.WithDescription("Check which files need processing (new or changed files)."),
		),
		mcpCheckFilesNeedingProcessing(deps),
	)

	s.AddTool(
		mcp.NewTool("reconcile_documents",
			mcp.WithDescription("Re-scan the raw directory, update document metadata records, and prune records for deleted files."),
		),
		mcpReconcileDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("get_server_status",
			mcp.WithDescription("Get the current status of the server and storage system."),
		),
		mcpGetServerStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"docs://metadata",
			"Document Metadata",
			mcp.WithResourceDescription("All tracked documents with their metadata as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMetadata(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"docs://status",
			"Storage Status",
			mcp.WithResourceDescription("Aggregate storage status as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpListRawFiles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names, err := deps.Store.ScanRawDirectory()
		if err != nil {
			return mcpError(fmt.Sprintf("listing raw files failed: %v", err)), nil
		}
		return mcpText(formatFileList("raw", names)), nil
	}
}

func mcpListProcessedFiles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names, err := deps.Store.ScanProcessedDirectory()
		if err != nil {
			return mcpError(fmt.Sprintf("listing processed files failed: %v", err)), nil
		}
		return mcpText(formatFileList("processed", names)), nil
	}
}

func mcpReadRawFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		content, err := deps.Store.ReadRawFile(filename)
		if err != nil {
			return mcpError(fmt.Sprintf("reading raw file failed: %v", err)), nil
		}
		return mcpText(content), nil
	}
}

func mcpReadProcessedFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		content, err := deps.Store.ReadProcessedFile(filename)
		if err != nil {
			return mcpError(fmt.Sprintf("reading processed file failed: %v", err)), nil
		}
		return mcpText(content), nil
	}
}

func mcpGetDocumentInfo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		doc, err := deps.Store.GetDocumentInfo(filename)
		if err != nil {
			return mcpError(fmt.Sprintf("getting document info failed: %v", err)), nil
		}
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal document info: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListAllDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs := deps.Store.ListAllDocuments()
		if len(docs) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCheckFilesNeedingProcessing(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pending, err := deps.Store.FilesNeedingProcessing()
		if err != nil {
			return mcpError(fmt.Sprintf("checking files failed: %v", err)), nil
		}
		if len(pending) == 0 {
			return mcpText("All files are up to date - no processing needed"), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Found %d files needing processing:\n", len(pending))
		for _, name := range pending {
			fmt.Fprintf(&sb, "- %s\n", name)
		}
		return mcpText(sb.String()), nil
	}
}

func mcpReconcileDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := runReconcile(deps.Store, deps.History, "mcp")
		if err != nil {
			return mcpError(fmt.Sprintf("reconcile failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf(
			"Reconcile complete: %d files seen, %d created, %d updated, %d removed",
			report.FilesSeen, report.Created, report.Updated, report.Removed,
		)), nil
	}
}

func mcpGetServerStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := deps.Store.Status()
		if err != nil {
			return mcpError(fmt.Sprintf("getting status failed: %v", err)), nil
		}

		health := "ok"
		if !status.MetadataHealthy {
			health = "metadata corrupt - run reconcile_documents to rebuild"
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "inkwell v%s\n\n", deps.Version)
		fmt.Fprintf(&sb, "Raw Files: %d\n", status.RawFiles)
		fmt.Fprintf(&sb, "Processed Files: %d\n", status.ProcessedFiles)
		fmt.Fprintf(&sb, "Files Needing Processing: %d\n", status.PendingFiles)
		fmt.Fprintf(&sb, "Tracked Documents: %d\n", status.TrackedDocuments)
		fmt.Fprintf(&sb, "Metadata: %s\n\n", health)
		fmt.Fprintf(&sb, "Raw Directory: %s\n", status.RawDir)
		fmt.Fprintf(&sb, "Processed Directory: %s\n", status.ProcessedDir)
		fmt.Fprintf(&sb, "Index Directory: %s\n", status.IndexDir)

		if deps.History != nil {
			if runs, err := deps.History.RecentRuns(1); err == nil && len(runs) > 0 {
				fmt.Fprintf(&sb, "\nLast Reconcile: %s (%d files seen)\n",
					runs[0].FinishedAt.Format(time.RFC3339), runs[0].FilesSeen)
			}
		}

		return mcpText(sb.String()), nil
	}
}

func mcpResourceMetadata(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs := deps.Store.ListAllDocuments()
		b, err := json.Marshal(docs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		status, err := deps.Store.Status()
		if err != nil {
			return nil, fmt.Errorf("failed to get status: %w", err)
		}
		b, err := json.Marshal(status)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// runReconcile runs a reconcile pass and records it in the history log.
// History failures are logged, never surfaced: the reconcile itself is what
// the caller asked for.
func runReconcile(store *storage.Store, hist *history.Log, source string) (storage.ReconcileReport, error) {
	started := time.Now().UTC()
	report, err := store.Reconcile()
	finished := time.Now().UTC()

	if hist != nil {
		run := history.Run{
			ID:         uuid.New().String(),
			StartedAt:  started,
			FinishedAt: finished,
			FilesSeen:  report.FilesSeen,
			Created:    report.Created,
			Updated:    report.Updated,
			Removed:    report.Removed,
			Saved:      report.Saved,
			Source:     source,
		}
		if err != nil {
			run.Error = err.Error()
		}
		if recErr := hist.RecordRun(run); recErr != nil {
			slog.Warn("failed to record reconcile run", "error", recErr)
		}
	}

	return report, err
}

func formatFileList(kind string, names []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d %s files:\n", len(names), kind)
	for _, name := range names {
		fmt.Fprintf(&sb, "- %s\n", name)
	}
	return sb.String()
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
