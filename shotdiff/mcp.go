package shotdiff

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/shotdiff/kit"
)

// RegisterMCP registers the shotdiff tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerListTool(srv)
	s.registerDiffImageTool(srv)
	s.registerReportTool(srv)
	s.registerRevertTool(srv)
	s.registerBinaryDiffTool(srv)
	s.registerLocateTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

var modeProperty = map[string]any{
	"type":        "string",
	"enum":        []any{"highlighted", "diff_only", "amplified", "amplified_diff_only"},
	"description": "Diff visualization mode: 'highlighted' (diff pixels blended on original), 'diff_only' (diff pixels on white), 'amplified' (expanded diff regions on original), 'amplified_diff_only' (expanded diff on white). Default: highlighted",
}

func (s *Service) register(srv *mcp.Server, tool *mcp.Tool, ep kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Chain(
		kit.Recovery(s.logger),
		kit.Logging(s.logger, tool.Name),
		kit.Timeout(s.cfg.MCP.ToolTimeout),
	)
	kit.RegisterMCPTool(srv, tool, mw(ep), decode)
}

func decodeInto[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	r, err := kit.DecodeArgs[T](req)
	if err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: r}, nil
}

// --- list_changed_screenshots ---

type listRequest struct {
	TutorialsPath string `json:"tutorials_path"`
	MinPixelDiff  int    `json:"min_pixel_diff,omitempty"`
}

func (s *Service) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "list_changed_screenshots",
		Description: "Scan tutorial screenshot folders for files that differ from the baseline. Returns a markdown summary of changed screenshots grouped by tutorial.",
		InputSchema: inputSchema(map[string]any{
			"tutorials_path": map[string]any{"type": "string", "description": "Full path to the Tutorials directory"},
			"min_pixel_diff": map[string]any{"type": "integer", "description": "Minimum pixel difference to report (default 0 = all changes)"},
		}, []string{"tutorials_path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listRequest)
		l, err := s.List(ctx, r.TutorialsPath)
		if err != nil {
			return nil, err
		}
		return l.Markdown(), nil
	}

	s.register(srv, tool, endpoint, decodeInto[listRequest])
}

// --- generate_diff_image ---

type diffImageRequest struct {
	ScreenshotPath string `json:"screenshot_path"`
	Mode           string `json:"mode,omitempty"`
	AmplifyRadius  int    `json:"amplify_radius,omitempty"`
	HighlightColor string `json:"highlight_color,omitempty"`
	HighlightAlpha *int   `json:"highlight_alpha,omitempty"`
	Sheet          bool   `json:"sheet,omitempty"`
}

func (s *Service) registerDiffImageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "generate_diff_image",
		Description: "Generate a diff image for a specific screenshot, comparing the current file against its baseline. Saves the diff image to the artifact folder and returns the path so the image can be read and reviewed.",
		InputSchema: inputSchema(map[string]any{
			"screenshot_path": map[string]any{"type": "string", "description": "Full path to the screenshot PNG file"},
			"mode":            modeProperty,
			"amplify_radius":  map[string]any{"type": "integer", "minimum": MinRadius, "maximum": MaxRadius, "description": "Amplification radius (1-10) for amplified modes. Default: 5"},
			"highlight_color": map[string]any{"type": "string", "description": "Highlight color as hex RGB (e.g., 'FF0000' for red, '00FF00' for green). Default: FF0000"},
			"highlight_alpha": map[string]any{"type": "integer", "minimum": 0, "maximum": 255, "description": "Highlight opacity 0-255 (0=transparent, 255=opaque). Default: 128"},
			"sheet":           map[string]any{"type": "boolean", "description": "Also save a side-by-side review sheet (baseline, current, diff)"},
		}, []string{"screenshot_path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*diffImageRequest)
		out, err := s.DiffImage(ctx, DiffRequest{
			Path:           r.ScreenshotPath,
			Mode:           r.Mode,
			AmplifyRadius:  r.AmplifyRadius,
			HighlightColor: r.HighlightColor,
			HighlightAlpha: r.HighlightAlpha,
			Sheet:          r.Sheet,
		})
		if err != nil {
			return nil, err
		}
		return out.Message(), nil
	}

	s.register(srv, tool, endpoint, decodeInto[diffImageRequest])
}

// --- generate_diff_report ---

type reportRequest struct {
	TutorialsPath string `json:"tutorials_path"`
	Mode          string `json:"mode,omitempty"`
	MinPixelDiff  *int   `json:"min_pixel_diff,omitempty"`
	AmplifyRadius int    `json:"amplify_radius,omitempty"`
	PDFPath       string `json:"pdf_path,omitempty"`
}

func (s *Service) registerReportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "generate_diff_report",
		Description: "Generate a full diff report for all changed screenshots in a tutorials directory. Saves diff images to the artifact folder and returns a markdown report with the path of each diff image.",
		InputSchema: inputSchema(map[string]any{
			"tutorials_path": map[string]any{"type": "string", "description": "Full path to the Tutorials directory"},
			"mode":           modeProperty,
			"min_pixel_diff": map[string]any{"type": "integer", "minimum": 0, "description": "Minimum pixel difference to include (default 0)"},
			"amplify_radius": map[string]any{"type": "integer", "minimum": MinRadius, "maximum": MaxRadius, "description": "Amplification radius for amplified modes (default 5)"},
			"pdf_path":       map[string]any{"type": "string", "description": "Optional path of a PDF packet bundling every saved diff image"},
		}, []string{"tutorials_path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*reportRequest)
		out, err := s.Report(ctx, ReportRequest{
			Dir:           r.TutorialsPath,
			Mode:          r.Mode,
			MinPixelDiff:  r.MinPixelDiff,
			AmplifyRadius: r.AmplifyRadius,
			PDFPath:       r.PDFPath,
		})
		if err != nil {
			return nil, err
		}
		return out.Markdown(), nil
	}

	s.register(srv, tool, endpoint, decodeInto[reportRequest])
}

// --- revert_screenshot ---

type pathRequest struct {
	ScreenshotPath string `json:"screenshot_path"`
	Format         string `json:"format,omitempty"`
}

func (s *Service) registerRevertTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "revert_screenshot",
		Description: "Revert a screenshot file to its git HEAD version.",
		InputSchema: inputSchema(map[string]any{
			"screenshot_path": map[string]any{"type": "string", "description": "Full path to the screenshot PNG file to revert"},
		}, []string{"screenshot_path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Revert(ctx, req.(*pathRequest).ScreenshotPath)
	}

	s.register(srv, tool, endpoint, decodeInto[pathRequest])
}

// --- show_binary_diff ---

func (s *Service) registerBinaryDiffTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "show_binary_diff",
		Description: "Show the first differing 16-byte lines of a screenshot and its baseline as a hex dump with an ASCII column. Useful when pixels match but the file bytes do not.",
		InputSchema: inputSchema(map[string]any{
			"screenshot_path": map[string]any{"type": "string", "description": "Full path to the screenshot file"},
			"format":          map[string]any{"type": "string", "enum": []any{"markdown", "text", "html"}, "description": "Output format (default markdown)"},
		}, []string{"screenshot_path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pathRequest)
		if r.Format == "ansi" {
			return nil, errors.New("shotdiff: ansi output is for terminals only")
		}
		out, err := s.BinaryDiff(ctx, r.ScreenshotPath, r.Format)
		if err != nil {
			return nil, err
		}
		if out == "" {
			return "No byte differences detected.", nil
		}
		return out, nil
	}

	s.register(srv, tool, endpoint, decodeInto[pathRequest])
}

// --- locate_screenshot ---

func (s *Service) registerLocateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "locate_screenshot",
		Description: "Parse a screenshot path into tutorial name, locale and page number, and return its published URLs and artifact folder.",
		InputSchema: inputSchema(map[string]any{
			"screenshot_path": map[string]any{"type": "string", "description": "Path of the screenshot, with either separator"},
		}, []string{"screenshot_path"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		return s.Locate(req.(*pathRequest).ScreenshotPath)
	}

	s.register(srv, tool, endpoint, decodeInto[pathRequest])
}
