package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/singerep/censaurus/pkg/census"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets [term ...]",
	Short: "List available Census datasets",
	Long:  "Fetches the Bureau's dataset catalog and lists every product key. Terms filter by title, e.g. 'datasets acs 2021'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cat, err := census.FetchCatalog(ctx, census.WithRetry(retryConfig()))
		if err != nil {
			return eris.Wrap(err, "datasets")
		}

		entries := cat.Entries()
		if len(args) > 0 {
			entries = cat.FilterByTerm(args...)
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No datasets matched.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VINTAGE\tKEY\tTITLE")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\n", e.Vintage, e.Key, e.Title)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
}
