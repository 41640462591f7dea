package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dbbridge/internal/tools"
	"dbbridge/internal/tunnel"
	"dbbridge/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dbbridge MCP server",
	Long: `Starts an MCP server exposing discovery, import and tunnel management as
tools over an SSE transport, and runs the idle monitor that demotes unused
tunnels and eventually stops them.

The server owns all tunnels it creates; stopping it tears them down.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := newApplication("json")
	if err != nil {
		return err
	}
	defer app.Close()

	monitor := tunnel.NewMonitor(app.manager,
		app.cfg.Monitor.Interval, app.cfg.Monitor.IdleTimeout, app.cfg.Monitor.StopTimeout)

	serverConfig := tools.ServerConfig{Host: app.cfg.Server.Host, Port: app.cfg.Server.Port}
	if serveHost != "" {
		serverConfig.Host = serveHost
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	server := tools.NewServer(serverConfig, tools.NewService(app.store, app.manager, app.pool, nil))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start idle monitor: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		monitor.Stop()
		return fmt.Errorf("failed to start MCP server: %w", err)
	}

	fmt.Printf("dbbridge MCP server listening on %s:%d. Press Ctrl+C to stop.\n",
		serverConfig.Host, serverConfig.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("App", "Received interrupt signal, shutting down")
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logging.Warn("App", "MCP server shutdown: %v", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides configuration)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides configuration)")
}
