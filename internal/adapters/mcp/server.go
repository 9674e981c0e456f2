// Package mcpadapter exposes the read side of the document set and the
// entity extractor as MCP tools over streamable HTTP.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
)

const (
	serverName   = "scanpipe"
	endpointPath = "/mcp"
)

type Server struct {
	documents ports.DocumentReader
	progress  ports.ProgressReader
	extractor ports.EntityExtractor
	mcp       *server.MCPServer
}

func NewServer(documents ports.DocumentReader, progress ports.ProgressReader, extractor ports.EntityExtractor, version string) *Server {
	s := &Server{
		documents: documents,
		progress:  progress,
		extractor: extractor,
		mcp:       server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List processed documents, newest submission first."),
		mcp.WithString("status", mcp.Description("Only documents in this status: queued, processing, completed or error.")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Get one document with its recognized text and entities."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id.")),
	), s.getDocument)

	s.mcp.AddTool(mcp.NewTool("batch_progress",
		mcp.WithDescription("Progress of the running or most recent batch, 0 to 100."),
	), s.batchProgress)

	s.mcp.AddTool(mcp.NewTool("extract_entities",
		mcp.WithDescription("Extract labelled entities (name, village, district, state, area, coordinates) from text."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Recognized form text.")),
	), s.extractEntities)

	return s
}

// Handler serves the tools at /mcp without session state.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(endpointPath),
		server.WithStateLess(true),
	)
}

type documentSummary struct {
	ID           string                `json:"id"`
	Filename     string                `json:"filename"`
	Status       domain.DocumentStatus `json:"status"`
	EntityCount  int                   `json:"entity_count"`
	ErrorMessage string                `json:"error_message,omitempty"`
}

func (s *Server) listDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := domain.DocumentStatus(strings.ToLower(strings.TrimSpace(request.GetString("status", ""))))

	docs, err := s.documents.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]documentSummary, 0, len(docs))
	for _, doc := range docs {
		if status != "" && doc.Status != status {
			continue
		}
		out = append(out, documentSummary{
			ID:           doc.ID,
			Filename:     doc.Filename,
			Status:       doc.Status,
			EntityCount:  len(doc.Entities),
			ErrorMessage: doc.ErrorMessage,
		})
	}
	return jsonResult(out)
}

func (s *Server) getDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(doc)
}

func (s *Server) batchProgress(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.progress.Current())
}

func (s *Server) extractEntities(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.extractor.Extract(text))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}
