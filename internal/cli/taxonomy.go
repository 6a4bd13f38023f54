package cli

import (
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/casfos/registry/internal/taxonomy"
)

func taxonomyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "List major domains and their minor domains",
		Example: heredoc.Doc(`
			$ casfosctl taxonomy
			$ casfosctl taxonomy minors Environment
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all := taxonomy.All()
			if a.output == outputJSON {
				return writeJSON(a.out, map[string]any{"majors": all})
			}
			for _, d := range all {
				fmt.Fprintln(a.out, d.Name)
				for _, m := range d.Minors {
					fmt.Fprintln(a.out, "  "+m)
				}
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "minors <major>",
		Short: "List the minor domains of one major domain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			major := strings.Join(args, " ")
			minors := taxonomy.MinorsOf(major)
			if a.output == outputJSON {
				return writeJSON(a.out, map[string]any{"major": major, "minors": minors})
			}
			if len(minors) == 0 {
				fmt.Fprintf(a.out, "no minor domains for %q\n", major)
				return nil
			}
			for _, m := range minors {
				fmt.Fprintln(a.out, m)
			}
			return nil
		},
	})
	return cmd
}
