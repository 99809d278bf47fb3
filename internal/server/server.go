// Package server exposes impact analysis as the show_impacted_code MCP tool.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/phobologic/impactscan/internal/impact"
	"github.com/phobologic/impactscan/internal/model"
)

// ToolName is the name agents call.
const ToolName = "show_impacted_code"

const toolDescription = "Find every file that references a function, method or class outside " +
	"the file that defines it. Call this before changing a signature to see the blast radius " +
	"of the edit. Results are capped by time, file and match budgets; a leading " +
	"\"Analysis stopped\" line marks a partial result."

// Analyzer runs one impact analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req impact.Request) (*model.Report, error)
}

// Arguments is the tool input.
type Arguments struct {
	RepoPath    string `json:"repoPath"`
	FilePath    string `json:"filePath"`
	ElementName string `json:"elementName"`
	ElementType string `json:"elementType,omitempty"`
}

// Server wraps an MCP server with the single analysis tool registered.
type Server struct {
	analyzer Analyzer
	logger   *slog.Logger
	mcp      *mcp.Server
}

// New creates a Server. A nil logger discards output.
func New(analyzer Analyzer, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		analyzer: analyzer,
		logger:   logger,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "impactscan",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        ToolName,
		Description: toolDescription,
		InputSchema: inputSchema(),
	}, s.handleShowImpactedCode)
}

func inputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"repoPath": {
				Type:        "string",
				Description: "Absolute path to the repository root",
			},
			"filePath": {
				Type:        "string",
				Description: "Path of the file that defines the element, relative to repoPath",
			},
			"elementName": {
				Type:        "string",
				Description: "Name of the function, method or class",
			},
			"elementType": {
				Type:        "string",
				Description: "Kind of element (advisory)",
				Enum:        []any{string(model.Function), string(model.Method), string(model.Class)},
			},
		},
		Required: []string{"repoPath", "filePath", "elementName"},
	}
}

// MCP returns the underlying MCP server, for callers that supply their own
// transport.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves on stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) handleShowImpactedCode(ctx context.Context, req *mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", "tool", ToolName, "panic", r, "stack", string(debug.Stack()))
			result, err = toolError(fmt.Errorf("internal error: %v", r)), nil
		}
	}()

	var args Arguments
	if req.Params != nil && len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
	}

	report, err := s.analyzer.Analyze(ctx, impact.Request{
		RepoPath:    args.RepoPath,
		FilePath:    args.FilePath,
		ElementName: args.ElementName,
		ElementType: model.ElementKind(args.ElementType),
	})
	if err != nil {
		s.logger.Warn("analysis failed", "element", args.ElementName, "err", err)
		return toolError(err), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: impact.Format(report)}},
	}, nil
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Error executing tool %s: %s", ToolName, err)},
		},
		IsError: true,
	}
}
