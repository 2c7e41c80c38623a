package builder

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/sitepreview/kit"
)

// RegisterMCP exposes the service as MCP tools.
func RegisterMCP(srv *mcp.Server, svc *Service) {
	registerStateTool(srv, svc)
	registerStartTool(srv, svc)
	registerMessageTool(srv, svc)
	registerResetTool(srv, svc)
}

type emptyReq struct{}

func (s *Service) endpoint(name string, fn kit.Endpoint) kit.Endpoint {
	return kit.Logging(s.logger, name)(fn)
}

func registerStateTool(srv *mcp.Server, svc *Service) {
	tool := &mcp.Tool{
		Name:        "sitepreview_state",
		Description: "Current build status, session id, preview snapshot and chat transcript.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.State(), nil
	}
	kit.RegisterMCPTool(srv, tool, svc.endpoint(tool.Name, endpoint), kit.DecodeArgs[emptyReq])
}

func registerStartTool(srv *mcp.Server, svc *Service) {
	tool := &mcp.Tool{
		Name: "sitepreview_start",
		Description: "Start a new website generation. Discards the current session and preview. " +
			"Give either a free-text prompt or a site configuration to derive one from.",
		InputSchema: kit.InputSchema(map[string]any{
			"prompt": map[string]any{"type": "string", "description": "Generation prompt"},
			"site": map[string]any{
				"type":        "object",
				"description": "Site configuration (essentials, core) used when prompt is empty",
			},
			"config": map[string]any{
				"type":        "object",
				"description": "Configuration forwarded to the build service as is",
			},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return svc.Start(ctx, *req.(*StartRequest))
	}
	kit.RegisterMCPTool(srv, tool, svc.endpoint(tool.Name, endpoint), kit.DecodeArgs[StartRequest])
}

type messageReq struct {
	Message string `json:"message"`
}

func registerMessageTool(srv *mcp.Server, svc *Service) {
	tool := &mcp.Tool{
		Name:        "sitepreview_message",
		Description: "Ask for a change to the generated website. Requires an active session.",
		InputSchema: kit.InputSchema(map[string]any{
			"message": map[string]any{"type": "string", "description": "Edit request"},
		}, []string{"message"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return svc.SendMessage(ctx, req.(*messageReq).Message)
	}
	kit.RegisterMCPTool(srv, tool, svc.endpoint(tool.Name, endpoint), kit.DecodeArgs[messageReq])
}

func registerResetTool(srv *mcp.Server, svc *Service) {
	tool := &mcp.Tool{
		Name:        "sitepreview_reset",
		Description: "Stop polling, release the preview and forget the session.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.Reset(ctx), nil
	}
	kit.RegisterMCPTool(srv, tool, svc.endpoint(tool.Name, endpoint), kit.DecodeArgs[emptyReq])
}
