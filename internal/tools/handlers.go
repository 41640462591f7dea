package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"dbbridge/internal/discovery"
	"dbbridge/internal/importer"

	"github.com/mark3labs/mcp-go/mcp"
)

// jsonResult renders a value as an indented JSON text result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Service) handleDiscover(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	kubeconfig, _ := args["kubeconfig"].(string)
	contextName, _ := args["context"].(string)

	discovered, err := s.discover(ctx, kubeconfig, contextName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Discovery failed: %v", err)), nil
	}

	return jsonResult(struct {
		Count    int                           `json:"count"`
		Services []discovery.DiscoveredService `json:"services"`
	}{Count: len(discovered), Services: discovered})
}

func (s *Service) handleListClusters(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	kubeconfig, _ := args["kubeconfig"].(string)

	contexts, err := s.listContexts(kubeconfig)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list clusters: %v", err)), nil
	}
	return jsonResult(contexts)
}

func (s *Service) handleImportConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	kubeconfig, _ := args["kubeconfig"].(string)
	contextName, _ := args["context"].(string)
	clusterName, _ := args["cluster_name"].(string)
	environment, _ := args["environment"].(string)
	force, _ := args["force"].(bool)

	services, ok, err := decodeServicesArgument(args["services"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid services argument: %v", err)), nil
	}
	if !ok {
		services, err = s.discover(ctx, kubeconfig, contextName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Discovery failed: %v", err)), nil
		}
	}

	summary, err := s.pipeline.Import(services, importer.Options{
		ForceOverride: force,
		ClusterName:   clusterName,
		Context:       contextName,
		Kubeconfig:    kubeconfig,
		Environment:   environment,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Import failed: %v", err)), nil
	}
	return jsonResult(summary)
}

func (s *Service) handleCreateForward(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	connectionID, ok := args["connection_id"].(float64)
	if !ok {
		return mcp.NewToolResultError("connection_id parameter is required"), nil
	}
	localPort := 0
	if port, ok := args["local_port"].(float64); ok {
		localPort = int(port)
	}

	tun, err := s.manager.Create(ctx, uint(connectionID), localPort)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create forward: %v", err)), nil
	}
	return jsonResult(tun)
}

func (s *Service) handleListForwards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.manager.List())
}

func (s *Service) handleGetForward(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	forwardID, err := request.RequireString("forward_id")
	if err != nil {
		return mcp.NewToolResultError("forward_id parameter is required"), nil
	}

	tun, err := s.manager.Get(forwardID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get forward: %v", err)), nil
	}
	return jsonResult(tun)
}

func (s *Service) handleGetForwardByConnection(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	connectionID, ok := args["connection_id"].(float64)
	if !ok {
		return mcp.NewToolResultError("connection_id parameter is required"), nil
	}

	tun, err := s.manager.GetByConnection(uint(connectionID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get forward: %v", err)), nil
	}
	return jsonResult(tun)
}

func (s *Service) handleStopForward(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	forwardID, err := request.RequireString("forward_id")
	if err != nil {
		return mcp.NewToolResultError("forward_id parameter is required"), nil
	}

	if err := s.manager.Stop(forwardID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop forward: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Forward %s stopped", forwardID)), nil
}

func (s *Service) handleReconnectForward(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	forwardID, err := request.RequireString("forward_id")
	if err != nil {
		return mcp.NewToolResultError("forward_id parameter is required"), nil
	}
	localPort := 0
	if port, ok := args["local_port"].(float64); ok {
		localPort = int(port)
	}

	tun, err := s.manager.Reconnect(ctx, forwardID, localPort)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to reconnect forward: %v", err)), nil
	}
	return jsonResult(tun)
}

func (s *Service) handleTouchForward(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	forwardID, err := request.RequireString("forward_id")
	if err != nil {
		return mcp.NewToolResultError("forward_id parameter is required"), nil
	}

	if err := s.manager.Touch(forwardID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to touch forward: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Forward %s touched", forwardID)), nil
}

// decodeServicesArgument converts an explicit services argument back into
// discovered-service records. Reports ok=false when the argument is absent.
func decodeServicesArgument(raw interface{}) ([]discovery.DiscoveredService, bool, error) {
	if raw == nil {
		return nil, false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false, err
	}
	var services []discovery.DiscoveredService
	if err := json.Unmarshal(data, &services); err != nil {
		return nil, false, err
	}
	return services, true, nil
}

// discover runs one discovery pass against the cluster, excluding services
// already imported as connections.
func (s *Service) discover(ctx context.Context, kubeconfig, contextName string) ([]discovery.DiscoveredService, error) {
	existing, err := s.store.ListK8sServiceKeys()
	if err != nil {
		return nil, err
	}
	engine := discovery.NewEngine(s.clientFactory(kubeconfig, contextName))
	return engine.Discover(ctx, existing)
}
