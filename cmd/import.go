package cmd

import (
	"fmt"

	"dbbridge/internal/importer"

	"github.com/spf13/cobra"
)

var (
	importKubeconfig  string
	importContext     string
	importClusterName string
	importEnvironment string
	importForce       bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Discover database services and import them as connections",
	Long: `Runs discovery against the target cluster and reconciles the results
into the connection store. Services whose (namespace, service) key is already
imported are skipped unless --force is given, in which case their credentials
are refreshed while the default-connection flag and any live tunnel state are
preserved.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	app, err := newApplication("text")
	if err != nil {
		return err
	}
	defer app.Close()

	services, err := app.discoverServices(cmd.Context(), importKubeconfig, importContext)
	if err != nil {
		return err
	}
	if len(services) == 0 && !importForce {
		fmt.Println("No new database services to import.")
		return nil
	}

	summary, err := importer.NewPipeline(app.store).Import(services, importer.Options{
		ForceOverride: importForce,
		ClusterName:   importClusterName,
		Context:       importContext,
		Kubeconfig:    importKubeconfig,
		Environment:   importEnvironment,
	})
	if err != nil {
		return err
	}

	for _, result := range summary.Results {
		line := fmt.Sprintf("%s  %s/%s", result.Action, result.Namespace, result.ServiceName)
		if result.Error != "" {
			line += ": " + result.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("Import finished: %d created, %d updated, %d skipped, %d failed\n",
		summary.Created, summary.Updated, summary.Skipped, summary.Failed)
	return nil
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importKubeconfig, "kubeconfig", "", "Kubeconfig path (defaults to the ambient kubeconfig)")
	importCmd.Flags().StringVar(&importContext, "context", "", "Kubeconfig context to scan (defaults to the current context)")
	importCmd.Flags().StringVar(&importClusterName, "cluster", "", "Cluster record to attach connections to, created if missing")
	importCmd.Flags().StringVar(&importEnvironment, "environment", "", "Environment label stored on a newly created cluster")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Refresh credentials of already imported connections")
}
