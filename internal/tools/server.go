package tools

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"dbbridge/pkg/logging"

	"github.com/mark3labs/mcp-go/server"
)

const serverSubsystem = "MCPServer"

// ServerConfig holds the MCP server's listen address.
type ServerConfig struct {
	Host string
	Port int
}

// Server exposes the tool surface over MCP with an SSE transport.
type Server struct {
	config  ServerConfig
	service *Service

	mu        sync.Mutex
	mcpServer *server.MCPServer
	sseServer *server.SSEServer
}

// NewServer creates an MCP server for the given tool service.
func NewServer(config ServerConfig, service *Service) *Server {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 8090
	}
	return &Server{config: config, service: service}
}

// Start registers the tools and begins serving SSE. Returns an error if the
// server is already started.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.mcpServer != nil {
		s.mu.Unlock()
		return fmt.Errorf("MCP server already started")
	}

	s.mcpServer = server.NewMCPServer(
		"dbbridge",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.service.Register(s.mcpServer)

	baseURL := fmt.Sprintf("http://%s:%d", s.config.Host, s.config.Port)
	s.sseServer = server.NewSSEServer(
		s.mcpServer,
		server.WithBaseURL(baseURL),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(30*time.Second),
	)
	sseServer := s.sseServer
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	logging.Info(serverSubsystem, "Starting MCP server on %s", addr)

	go func() {
		if err := sseServer.Start(addr); err != nil && err != http.ErrServerClosed {
			logging.Error(serverSubsystem, err, "SSE server error")
		}
	}()
	return nil
}

// Stop shuts the SSE transport down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sseServer := s.sseServer
	s.mcpServer = nil
	s.sseServer = nil
	s.mu.Unlock()

	if sseServer == nil {
		return fmt.Errorf("MCP server not started")
	}
	logging.Info(serverSubsystem, "Stopping MCP server")
	return sseServer.Shutdown(ctx)
}
