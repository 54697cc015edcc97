package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/auth"
	"github.com/tonimelisma/minutes-gateway/internal/cursor"
	"github.com/tonimelisma/minutes-gateway/internal/minutes"
)

// Tool names.
const (
	ToolListTranscripts = "list_transcripts"
	ToolGetTranscript   = "get_transcript"
	ToolListMinutes     = "list_minutes"
	ToolRenderMinutes   = "render_minutes"
	ToolDownloadMinutes = "download_minutes"
	ToolWhoAmI          = "whoami"
)

// toolFunc runs one tool inside a resolved session.
type toolFunc func(ctx context.Context, s *Session, req mcp.CallToolRequest) (any, error)

type listArgs struct {
	Cursor     string `json:"cursor"`
	PageSize   int    `json:"page_size"`
	NameFilter string `json:"name_filter"`
}

type itemArgs struct {
	ItemID string `json:"item_id"`
}

type renderArgs struct {
	Minutes      json.RawMessage `json:"minutes"`
	FileName     string          `json:"file_name"`
	Overwrite    bool            `json:"overwrite"`
	SourceItemID string          `json:"source_item_id"`
}

// Tools returns the gateway's MCP tools.
func (g *Gateway) Tools() []server.ServerTool {
	pageProps := map[string]any{
		"cursor": map[string]any{
			"type":        "string",
			"description": "Opaque cursor from a previous page.",
		},
		"page_size": map[string]any{
			"type":        "integer",
			"minimum":     1,
			"maximum":     cursor.MaxPageSize,
			"default":     cursor.DefaultPageSize,
			"description": "Items per page.",
		},
	}

	transcriptProps := map[string]any{
		"name_filter": map[string]any{
			"type":        "string",
			"description": "Case-insensitive substring the file name must contain.",
		},
	}
	for k, v := range pageProps {
		transcriptProps[k] = v
	}

	itemProps := map[string]any{
		"item_id": map[string]any{"type": "string", "minLength": 1},
	}

	return []server.ServerTool{
		g.tool(ToolListTranscripts, "List meeting transcripts in your input folder.",
			objectSchema(transcriptProps), g.listTranscriptsTool),
		g.tool(ToolGetTranscript, "Read the text of one transcript.",
			objectSchema(itemProps, "item_id"), g.getTranscriptTool),
		g.tool(ToolListMinutes, "List minutes documents in your output folder.",
			objectSchema(pageProps), g.listMinutesTool),
		g.tool(ToolRenderMinutes, "Render minutes, save them to your output folder and return a download link.",
			renderSchema(), g.renderMinutesTool),
		g.tool(ToolDownloadMinutes, "Return a download link for an existing minutes document.",
			objectSchema(itemProps, "item_id"), g.downloadMinutesTool),
		g.tool(ToolWhoAmI, "Show your identity and folders.",
			objectSchema(map[string]any{}), func(_ context.Context, s *Session, _ mcp.CallToolRequest) (any, error) {
				return g.WhoAmI(s), nil
			}),
	}
}

// Register adds the gateway's tools to srv.
func (g *Gateway) Register(srv *server.MCPServer) {
	srv.AddTools(g.Tools()...)
}

func (g *Gateway) listTranscriptsTool(ctx context.Context, s *Session, req mcp.CallToolRequest) (any, error) {
	var args listArgs
	if err := bind(req, &args); err != nil {
		return nil, err
	}

	return g.ListTranscripts(ctx, s, ListParams(args))
}

func (g *Gateway) listMinutesTool(ctx context.Context, s *Session, req mcp.CallToolRequest) (any, error) {
	var args listArgs
	if err := bind(req, &args); err != nil {
		return nil, err
	}

	args.NameFilter = ""

	return g.ListMinutes(ctx, s, ListParams(args))
}

func (g *Gateway) getTranscriptTool(ctx context.Context, s *Session, req mcp.CallToolRequest) (any, error) {
	var args itemArgs
	if err := bind(req, &args); err != nil {
		return nil, err
	}

	return g.GetTranscript(ctx, s, args.ItemID)
}

func (g *Gateway) downloadMinutesTool(ctx context.Context, s *Session, req mcp.CallToolRequest) (any, error) {
	var args itemArgs
	if err := bind(req, &args); err != nil {
		return nil, err
	}

	return g.DownloadMinutes(ctx, s, args.ItemID)
}

func (g *Gateway) renderMinutesTool(ctx context.Context, s *Session, req mcp.CallToolRequest) (any, error) {
	var args renderArgs
	if err := bind(req, &args); err != nil {
		return nil, err
	}

	doc, err := minutesDocument(args.Minutes)
	if err != nil {
		return nil, err
	}

	return g.RenderMinutes(ctx, s, RenderParams{
		Minutes:      doc,
		FileName:     args.FileName,
		Overwrite:    args.Overwrite,
		SourceItemID: args.SourceItemID,
	})
}

// tool wraps fn with authentication, session resolution, error envelopes,
// logging and observation.
func (g *Gateway) tool(name, description string, schema json.RawMessage, fn toolFunc) server.ServerTool {
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		out, err := g.runTool(ctx, req, fn)
		if err != nil {
			return g.toolError(ctx, name, err, time.Since(start)), nil
		}

		g.observe(name, "ok", time.Since(start))

		text, mErr := json.Marshal(out)
		if mErr != nil {
			return g.toolError(ctx, name, apperr.Internal("", "result could not be encoded", mErr), time.Since(start)), nil
		}

		return mcp.NewToolResultStructured(out, string(text)), nil
	}

	return server.ServerTool{
		Tool: mcp.Tool{
			Name:           name,
			Description:    description,
			RawInputSchema: schema,
		},
		Handler: handler,
	}
}

func (g *Gateway) runTool(ctx context.Context, req mcp.CallToolRequest, fn toolFunc) (any, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, apperr.Unauthorized("missing_token", "request is not authenticated", nil)
	}

	s, err := g.Session(ctx, p)
	if err != nil {
		return nil, err
	}

	return fn(ctx, s, req)
}

// toolError logs err with its cause and returns the caller-safe envelope.
func (g *Gateway) toolError(ctx context.Context, name string, err error, elapsed time.Duration) *mcp.CallToolResult {
	env := apperr.NewEnvelope(err, name, apperr.RequestID(ctx))

	level := slog.LevelInfo
	if env.Status >= 500 {
		level = slog.LevelError
	}

	var userKey string
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		userKey = p.Subject()
	}

	g.logger.Log(ctx, level, "tool call failed",
		slog.String("request_id", env.RequestID),
		slog.String("tool", name),
		slog.String("user_key", userKey),
		slog.Int("status", env.Status),
		slog.String("code", env.Code),
		slog.String("error", err.Error()),
	)

	g.observe(name, env.Code, elapsed)

	text, mErr := json.Marshal(env)
	if mErr != nil {
		text = []byte(env.Message)
	}

	res := mcp.NewToolResultStructured(env, string(text))
	res.IsError = true

	return res
}

func (g *Gateway) observe(name, code string, elapsed time.Duration) {
	if g.cfg.Observer != nil {
		g.cfg.Observer.ObserveTool(name, code, elapsed)
	}
}

func bind(req mcp.CallToolRequest, target any) error {
	if req.Params.Arguments == nil {
		return nil
	}

	if err := req.BindArguments(target); err != nil {
		return apperr.Validation("invalid_arguments", "tool arguments do not match the input schema", err)
	}

	return nil
}

// minutesDocument accepts the minutes as a JSON object or as a string
// holding one; some clients serialize nested objects.
func minutesDocument(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, apperr.Validation("invalid_minutes", "minutes document is required", nil)
	}

	if raw[0] != '"' {
		return raw, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, apperr.Validation("invalid_minutes", "minutes document is not valid JSON", err)
	}

	return json.RawMessage(s), nil
}

func objectSchema(props map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return mustJSON(schema)
}

// renderSchema embeds the minutes document schema in the tool input.
func renderSchema() json.RawMessage {
	var doc map[string]any
	if err := json.Unmarshal(minutes.Schema(), &doc); err != nil {
		panic(fmt.Sprintf("gateway: minutes schema: %v", err))
	}

	delete(doc, "$schema")
	delete(doc, "$id")

	return objectSchema(map[string]any{
		"minutes": doc,
		"file_name": map[string]any{
			"type":        "string",
			"description": "Output file name; derived from date and title when omitted.",
		},
		"overwrite": map[string]any{
			"type":    "boolean",
			"default": false,
		},
		"source_item_id": map[string]any{
			"type":        "string",
			"description": "Transcript the minutes were written from.",
		},
	}, "minutes")
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("gateway: encoding tool schema: %v", err))
	}

	return b
}
