// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Quire notebook tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/avorein/quire/internal/kernel"
	"github.com/avorein/quire/internal/notebook"
)

// Server wraps the MCP server with Quire tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *notebook.Service
	servers *kernel.Registry
	trans   kernel.Transport
}

// New creates a new MCP server with all Quire tools registered.
func New(svc *notebook.Service, servers *kernel.Registry, trans kernel.Transport) *Server {
	s := &Server{svc: svc, servers: servers, trans: trans}

	s.mcp = server.NewMCPServer(
		"Quire",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notebooks",
		mcp.WithDescription("List all notebooks with their ids and titles."),
	), s.listNotebooks)

	s.mcp.AddTool(mcp.NewTool("read_notebook",
		mcp.WithDescription("Read a notebook's document: its ordered blocks with type, text and attributes."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Notebook id")),
	), s.readNotebook)

	s.mcp.AddTool(mcp.NewTool("run_cell",
		mcp.WithDescription("Execute one code cell of an open notebook against its kernel session and return the sanitized output."),
		mcp.WithString("notebook", mcp.Required(), mcp.Description("Notebook id")),
		mcp.WithString("cell", mcp.Required(), mcp.Description("Code cell (block) id")),
	), s.runCell)

	s.mcp.AddTool(mcp.NewTool("list_kernels",
		mcp.WithDescription("List the kernels available on a configured server."),
		mcp.WithString("server", mcp.Required(), mcp.Description("Configured server name")),
	), s.listKernels)

	// Resource: document format notes for LLM consumers.
	s.mcp.AddResource(
		mcp.NewResource("quire://document-format", "Document Format",
			mcp.WithResourceDescription("Shape of the notebook document returned by read_notebook."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDocumentFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listNotebooks(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, err := s.svc.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText("no notebooks"), nil
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s\t%s\n", r.ID, r.Title)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) readNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Open(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc := n.Document()
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) runCell(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notebookID, err := req.RequireString("notebook")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cellID, err := req.RequireString("cell")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Open(ctx, notebookID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := n.RunCell(ctx, cellID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.OK() {
		return mcp.NewToolResultError(res.Err), nil
	}
	return mcp.NewToolResultText(res.Output), nil
}

func (s *Server) listKernels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("server")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	srv, err := s.servers.Get(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	specs, err := s.trans.ListKernels(ctx, srv)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var b strings.Builder
	for _, sp := range specs {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", sp.Name, sp.DisplayName, sp.Language)
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("no kernels"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) readDocumentFormatResource(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
