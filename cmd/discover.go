package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	discoverKubeconfig string
	discoverContext    string
	discoverJSON       bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan a Kubernetes cluster for database services",
	Long: `Lists services across all namespaces of the target cluster and reports
the ones that look like database or storage middleware, together with any
credentials found in their secrets. Services already imported as connections
are excluded.`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	app, err := newApplication("text")
	if err != nil {
		return err
	}
	defer app.Close()

	services, err := app.discoverServices(cmd.Context(), discoverKubeconfig, discoverContext)
	if err != nil {
		return err
	}

	if discoverJSON {
		data, err := json.MarshalIndent(services, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(services) == 0 {
		fmt.Println("No new database services found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tNAME\tTYPE\tPORT\tCREDENTIALS")
	for _, svc := range services {
		creds := "no"
		if svc.HasCredentials {
			creds = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", svc.Namespace, svc.Name, svc.Type, svc.Port, creds)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().StringVar(&discoverKubeconfig, "kubeconfig", "", "Kubeconfig path (defaults to the ambient kubeconfig)")
	discoverCmd.Flags().StringVar(&discoverContext, "context", "", "Kubeconfig context to scan (defaults to the current context)")
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "Print results as JSON")
}
