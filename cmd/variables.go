package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/singerep/censaurus/pkg/census"
)

var variablesCmd = &cobra.Command{
	Use:   "variables [term ...]",
	Short: "List a dataset's variables",
	Long: `Lists the variables of a dataset. Positional terms filter by label,
--concept filters by concept, --group restricts to one variable group.

Example:
  censaurus variables --product acs5 --year 2021 --group B01001 sex age`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		product, _ := cmd.Flags().GetString("product")
		year, _ := cmd.Flags().GetInt("year")
		group, _ := cmd.Flags().GetString("group")
		concepts, _ := cmd.Flags().GetStringSlice("concept")
		groupsOnly, _ := cmd.Flags().GetBool("groups")

		opts, cleanup := datasetOptions()
		defer cleanup()

		ds, err := openDataset(ctx, product, year, opts...)
		if err != nil {
			return err
		}

		if groupsOnly {
			return printGroups(ds.Groups(), args)
		}

		vars := ds.Variables()
		if group != "" {
			vars, err = vars.FilterByGroup(group)
			if err != nil {
				return eris.Wrap(err, "variables")
			}
		}
		if len(concepts) > 0 {
			vars = vars.FilterByConcept(concepts...)
		}
		if len(args) > 0 {
			vars = vars.FilterByLabel(args...)
		}

		names := vars.Names()
		if len(names) == 0 {
			fmt.Fprintln(os.Stderr, "No variables matched.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tGROUP\tLABEL")
		for _, name := range names {
			v := vars.Get(name)
			fmt.Fprintf(w, "%s\t%s\t%s\n", v.Name, v.Group, v.ReadablePath())
		}
		return w.Flush()
	},
}

func printGroups(groups *census.GroupCollection, terms []string) error {
	if len(terms) > 0 {
		groups = groups.FilterByTerm(terms...)
	}
	list := groups.List()
	if len(list) == 0 {
		fmt.Fprintln(os.Stderr, "No groups matched.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tVARIABLES\tCONCEPT")
	for _, g := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\n", g.Name, len(g.Variables), g.Concept)
	}
	return w.Flush()
}

func init() {
	variablesCmd.Flags().String("product", "acs5", "dataset product (acs1, acs5, dec/pl, estimates, ...)")
	variablesCmd.Flags().Int("year", 2021, "dataset vintage year")
	variablesCmd.Flags().String("group", "", "restrict to one variable group, e.g. B01001")
	variablesCmd.Flags().StringSlice("concept", nil, "filter by concept terms")
	variablesCmd.Flags().Bool("groups", false, "list variable groups instead of variables")

	rootCmd.AddCommand(variablesCmd)
}
