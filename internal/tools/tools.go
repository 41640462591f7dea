package tools

import (
	"dbbridge/internal/discovery"
	"dbbridge/internal/importer"
	"dbbridge/internal/kube"
	"dbbridge/internal/pool"
	"dbbridge/internal/store"
	"dbbridge/internal/tunnel"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ClusterClientFactory builds a cluster client for discovery runs. Kubeconfig
// may be a path, inline YAML, or empty for the ambient default chain.
type ClusterClientFactory func(kubeconfig, contextName string) discovery.ClusterClient

// Service backs the MCP tool surface with the discovery, import, tunnel and
// pool subsystems.
type Service struct {
	store         *store.Store
	manager       *tunnel.Manager
	pool          *pool.Pool
	pipeline      *importer.Pipeline
	clientFactory ClusterClientFactory

	// listContexts resolves context names from kubeconfig material; replaced
	// in tests.
	listContexts func(kubeconfig string) ([]string, error)
}

// NewService creates the tool service. A nil factory builds real cluster
// clients; tests inject fakes.
func NewService(s *store.Store, manager *tunnel.Manager, p *pool.Pool, factory ClusterClientFactory) *Service {
	if factory == nil {
		factory = func(kubeconfig, contextName string) discovery.ClusterClient {
			return kube.NewManager(kubeconfig, contextName)
		}
	}
	return &Service{
		store:         s,
		manager:       manager,
		pool:          p,
		pipeline:      importer.NewPipeline(s),
		clientFactory: factory,
		listContexts: func(kubeconfig string) ([]string, error) {
			return kube.NewManager(kubeconfig, "").ListContexts()
		},
	}
}

// ServerTools returns every tool paired with its handler, ready for batch
// registration on an MCP server.
func (s *Service) ServerTools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: mcp.NewTool("discover",
			mcp.WithDescription("Scan a Kubernetes cluster for database services not yet imported"),
			mcp.WithString("context",
				mcp.Description("Kubeconfig context to scan (defaults to the current context)"),
			),
			mcp.WithString("kubeconfig",
				mcp.Description("Kubeconfig path or inline YAML (defaults to the ambient kubeconfig)"),
			),
		), Handler: s.handleDiscover},

		{Tool: mcp.NewTool("list_clusters",
			mcp.WithDescription("List context names available in a kubeconfig"),
			mcp.WithString("kubeconfig",
				mcp.Description("Kubeconfig path or inline YAML (defaults to the ambient kubeconfig)"),
			),
		), Handler: s.handleListClusters},

		{Tool: mcp.NewTool("import_connections",
			mcp.WithDescription("Import database services as connections; discovers them when no services are given"),
			mcp.WithArray("services",
				mcp.Description("Discovered services to import (defaults to a fresh discovery run)"),
			),
			mcp.WithString("context",
				mcp.Description("Kubeconfig context to scan (defaults to the current context)"),
			),
			mcp.WithString("kubeconfig",
				mcp.Description("Kubeconfig path or inline YAML (defaults to the ambient kubeconfig)"),
			),
			mcp.WithString("cluster_name",
				mcp.Description("Cluster record to attach imported connections to, created if missing"),
			),
			mcp.WithString("environment",
				mcp.Description("Environment label stored on a newly created cluster"),
			),
			mcp.WithBoolean("force",
				mcp.Description("Overwrite credentials of already imported connections"),
			),
		), Handler: s.handleImportConnections},

		{Tool: mcp.NewTool("create_forward",
			mcp.WithDescription("Open a port-forward tunnel for an imported connection"),
			mcp.WithNumber("connection_id",
				mcp.Required(),
				mcp.Description("Connection to tunnel to"),
			),
			mcp.WithNumber("local_port",
				mcp.Description("Pin a specific local port instead of auto-allocating"),
			),
		), Handler: s.handleCreateForward},

		{Tool: mcp.NewTool("list_forwards",
			mcp.WithDescription("List all tunnels with their current state"),
		), Handler: s.handleListForwards},

		{Tool: mcp.NewTool("get_forward",
			mcp.WithDescription("Get the current state of a tunnel"),
			mcp.WithString("forward_id",
				mcp.Required(),
				mcp.Description("Tunnel id"),
			),
		), Handler: s.handleGetForward},

		{Tool: mcp.NewTool("get_forward_by_connection",
			mcp.WithDescription("Get the tunnel serving a connection, if any"),
			mcp.WithNumber("connection_id",
				mcp.Required(),
				mcp.Description("Connection id"),
			),
		), Handler: s.handleGetForwardByConnection},

		{Tool: mcp.NewTool("stop_forward",
			mcp.WithDescription("Stop a tunnel and release its local port"),
			mcp.WithString("forward_id",
				mcp.Required(),
				mcp.Description("Tunnel id"),
			),
		), Handler: s.handleStopForward},

		{Tool: mcp.NewTool("reconnect_forward",
			mcp.WithDescription("Re-establish a tunnel after an error, reusing its local port"),
			mcp.WithString("forward_id",
				mcp.Required(),
				mcp.Description("Tunnel id"),
			),
			mcp.WithNumber("local_port",
				mcp.Description("Move the tunnel to a specific local port"),
			),
		), Handler: s.handleReconnectForward},

		{Tool: mcp.NewTool("touch_forward",
			mcp.WithDescription("Mark a tunnel as in use so the idle monitor keeps it open"),
			mcp.WithString("forward_id",
				mcp.Required(),
				mcp.Description("Tunnel id"),
			),
		), Handler: s.handleTouchForward},
	}
}

// Register adds all tools to the given MCP server.
func (s *Service) Register(mcpServer *server.MCPServer) {
	mcpServer.AddTools(s.ServerTools()...)
}
