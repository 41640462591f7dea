package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"dbbridge/internal/kube"

	"github.com/spf13/cobra"
)

var (
	clustersKubeconfig string
	clustersContexts   bool
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List registered clusters or available kubeconfig contexts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if clustersContexts {
			contexts, err := kube.NewManager(clustersKubeconfig, "").ListContexts()
			if err != nil {
				return err
			}
			for _, name := range contexts {
				fmt.Println(name)
			}
			return nil
		}

		app, err := newApplication("text")
		if err != nil {
			return err
		}
		defer app.Close()

		clusters, err := app.store.ListClusters()
		if err != nil {
			return err
		}
		if len(clusters) == 0 {
			fmt.Println("No clusters registered. Run 'dbbridge import --cluster <name>' first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCONTEXT\tENVIRONMENT\tACTIVE")
		for _, cluster := range clusters {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n",
				cluster.ID, cluster.Name, cluster.Context, cluster.Environment, cluster.Active)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(clustersCmd)

	clustersCmd.Flags().StringVar(&clustersKubeconfig, "kubeconfig", "", "Kubeconfig path (defaults to the ambient kubeconfig)")
	clustersCmd.Flags().BoolVar(&clustersContexts, "contexts", false, "List context names from the kubeconfig instead of registered clusters")
}
