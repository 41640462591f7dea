package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"dbbridge/internal/store"
	"dbbridge/internal/tunnel"

	"github.com/spf13/cobra"
)

var forwardLocalPort int

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Manage port-forward tunnels to imported connections",
	Long: `Tunnels live inside the process that created them: 'forward create' and
'forward reconnect' keep running until interrupted, and 'dbbridge serve' manages
tunnels for MCP clients. 'forward list', 'get' and 'stop' operate on the tunnel
state recorded on each connection.`,
}

var forwardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connections with their recorded tunnel state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication("text")
		if err != nil {
			return err
		}
		defer app.Close()

		conns, err := app.store.ListConnections()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSERVICE\tSTATUS\tLOCAL PORT")
		for _, conn := range conns {
			if conn.Source != store.SourceK8s {
				continue
			}
			localPort := "-"
			if conn.ForwardLocalPort != 0 {
				localPort = strconv.Itoa(conn.ForwardLocalPort)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s/%s\t%s\t%s\n",
				conn.ID, conn.Name, conn.Type, conn.K8sNamespace, conn.K8sServiceName,
				conn.ForwardStatus, localPort)
		}
		return w.Flush()
	},
}

var forwardGetCmd = &cobra.Command{
	Use:   "get <connection-id>",
	Short: "Show the recorded tunnel state of a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectionID, err := parseConnectionID(args[0])
		if err != nil {
			return err
		}

		app, err := newApplication("text")
		if err != nil {
			return err
		}
		defer app.Close()

		conn, err := app.store.GetConnection(connectionID)
		if err != nil {
			return err
		}
		fmt.Printf("Connection %d (%s, %s/%s)\n", conn.ID, conn.Name, conn.K8sNamespace, conn.K8sServiceName)
		fmt.Printf("  status:     %s\n", conn.ForwardStatus)
		if conn.ForwardLocalPort != 0 {
			fmt.Printf("  local port: %d\n", conn.ForwardLocalPort)
		}
		if conn.ForwardError != "" {
			fmt.Printf("  last error: %s\n", conn.ForwardError)
		}
		return nil
	},
}

var forwardCreateCmd = &cobra.Command{
	Use:   "create <connection-id>",
	Short: "Open a tunnel and keep it running until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectionID, err := parseConnectionID(args[0])
		if err != nil {
			return err
		}
		return runForwardSession(cmd, connectionID, forwardLocalPort)
	},
}

var forwardReconnectCmd = &cobra.Command{
	Use:   "reconnect <connection-id>",
	Short: "Re-open a tunnel on the connection's previously recorded local port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectionID, err := parseConnectionID(args[0])
		if err != nil {
			return err
		}

		app, err := newApplication("text")
		if err != nil {
			return err
		}
		conn, err := app.store.GetConnection(connectionID)
		if err != nil {
			app.Close()
			return err
		}
		localPort := conn.ForwardLocalPort
		app.Close()

		return runForwardSession(cmd, connectionID, localPort)
	},
}

var forwardStopCmd = &cobra.Command{
	Use:   "stop <connection-id>",
	Short: "Clear the recorded tunnel state of a connection",
	Long: `Resets the connection's recorded tunnel state to pending. Useful after the
process that owned the tunnel exited uncleanly and left stale state behind.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectionID, err := parseConnectionID(args[0])
		if err != nil {
			return err
		}

		app, err := newApplication("text")
		if err != nil {
			return err
		}
		defer app.Close()

		if _, err := app.store.GetConnection(connectionID); err != nil {
			return err
		}
		if err := app.store.SaveForwardState(connectionID, "", 0, store.ForwardPending, ""); err != nil {
			return err
		}
		fmt.Printf("Cleared tunnel state for connection %d\n", connectionID)
		return nil
	},
}

// runForwardSession opens a tunnel and blocks until the process is
// interrupted, then tears everything down.
func runForwardSession(cmd *cobra.Command, connectionID uint, localPort int) error {
	app, err := newApplication("text")
	if err != nil {
		return err
	}
	defer app.Close()

	tun, err := app.manager.Create(cmd.Context(), connectionID, localPort)
	if err != nil {
		return err
	}
	if tun.Status != tunnel.StatusActive {
		return fmt.Errorf("tunnel failed to establish: %s", tun.LastError)
	}

	fmt.Printf("Forwarding localhost:%d -> %s/%s:%d. Press Ctrl+C to stop.\n",
		tun.LocalPort, tun.Namespace, tun.ServiceName, tun.RemotePort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	return nil
}

func parseConnectionID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid connection id %q", arg)
	}
	return uint(id), nil
}

func init() {
	rootCmd.AddCommand(forwardCmd)

	forwardCreateCmd.Flags().IntVar(&forwardLocalPort, "local-port", 0, "Pin a specific local port instead of auto-allocating")

	forwardCmd.AddCommand(forwardListCmd)
	forwardCmd.AddCommand(forwardGetCmd)
	forwardCmd.AddCommand(forwardCreateCmd)
	forwardCmd.AddCommand(forwardReconnectCmd)
	forwardCmd.AddCommand(forwardStopCmd)
}
