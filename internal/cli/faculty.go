package cli

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/casfos/registry/internal/detail"
	"github.com/casfos/registry/internal/filter"
	"github.com/casfos/registry/internal/listing"
)

func facultyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "faculty",
		Aliases: []string{"faculties"},
		Short:   "Search and view faculty profiles",
		Example: heredoc.Doc(`
			$ casfosctl faculty list --status serving --major Environment
			$ casfosctl faculty list -q 'name:asha type:internal'
			$ casfosctl faculty show 64f1c0ffee
			$ casfosctl faculty watch
		`),
	}
	cmd.AddCommand(
		listFacultyCommand(a),
		showFacultyCommand(a),
		watchFacultyCommand(a),
	)
	return cmd
}

// facultyFlags binds every faculty criterion to a flag.
func facultyFlags(fs *pflag.FlagSet, c *filter.FacultyCriteria) {
	fs.StringVar(&c.Name, "name", "", "name contains")
	fs.StringVar(&c.FacultyType, "type", "", "faculty type contains (Internal, External, Contract)")
	fs.StringVar(&c.YearOfAllotment, "year", "", "year of allotment equals")
	fs.StringVar(&c.Email, "email", "", "email contains")
	fs.StringVar(&c.DomainKnowledge, "knowledge", "", "domain knowledge contains")
	fs.StringVar(&c.AreaOfExpertise, "expertise", "", "area of expertise contains")
	fs.StringVar(&c.Institution, "institution", "", "institution contains")
	fs.StringVar(&c.Status, "status", "", "status equals (serving or retired)")
	fs.StringVar(&c.ModulesHandled, "module", "", "a handled module's name contains")
	fs.StringSliceVar(&c.MajorDomains, "major", nil, "major domain the profile must have (repeatable)")
	fs.StringSliceVar(&c.MinorDomains, "minor", nil, "minor domain the profile must have (repeatable, needs --major)")
	fs.StringVar(&c.MobileNumber, "mobile", "", "mobile number contains")
}

// overlay copies every criterion set in flags over q.
func overlay(q, flags filter.FacultyCriteria) filter.FacultyCriteria {
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&q.Name, flags.Name)
	pick(&q.FacultyType, flags.FacultyType)
	pick(&q.YearOfAllotment, flags.YearOfAllotment)
	pick(&q.Email, flags.Email)
	pick(&q.DomainKnowledge, flags.DomainKnowledge)
	pick(&q.AreaOfExpertise, flags.AreaOfExpertise)
	pick(&q.Institution, flags.Institution)
	pick(&q.Status, flags.Status)
	pick(&q.ModulesHandled, flags.ModulesHandled)
	pick(&q.MobileNumber, flags.MobileNumber)
	if len(flags.MajorDomains) > 0 {
		q.MajorDomains = flags.MajorDomains
	}
	if len(flags.MinorDomains) > 0 {
		q.MinorDomains = flags.MinorDomains
	}
	return q
}

func listFacultyCommand(a *app) *cobra.Command {
	var (
		criteria filter.FacultyCriteria
		query    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List faculty profiles matching the given criteria",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := criteria
			if query != "" {
				parsed, err := filter.ParseQuery(query)
				if err != nil {
					return err
				}
				c = overlay(parsed, criteria)
			}
			if err := c.Validate(); err != nil {
				return err
			}
			mode, err := a.listMode()
			if err != nil {
				return err
			}
			src, err := a.facultySource(mode)
			if err != nil {
				return err
			}
			return a.writeOutcome(facultyColumns, src.Search(cmd.Context(), c.Normalized()))
		},
	}
	facultyFlags(cmd.Flags(), &criteria)
	cmd.Flags().StringVarP(&query, "query", "q", "", "one-line query, e.g. 'status:serving major:Environment'")
	return cmd
}

func showFacultyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show every field of one faculty profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.backend.Faculty(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			opts := detail.DefaultOptions(a.cfg.Backend.UploadsURL())
			if a.cfg.Search.DetailMaxDepth > 0 {
				opts.MaxDepth = a.cfg.Search.DetailMaxDepth
			}
			rows := detail.Format(doc, opts)
			if a.output == outputJSON {
				return writeJSON(a.out, map[string]any{"id": doc.ID(), "rows": rows})
			}
			return detail.Render(a.out, rows)
		},
	}
}

func watchFacultyCommand(a *app) *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live search: each input line is a query applied once typing pauses",
		Long: heredoc.Doc(`
			Reads one-line queries from standard input, e.g.

			    name:asha status:serving major:Environment

			A query is applied once no new line has arrived for the debounce
			interval; only the newest query's result is printed. An empty line
			lists every profile. End of input applies any pending query and exits.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := a.listMode()
			if err != nil {
				return err
			}
			src, err := a.facultySource(mode)
			if err != nil {
				return err
			}
			if delay <= 0 {
				delay = a.cfg.Search.DebounceDelay
			}
			return a.watch(cmd.Context(), src, delay)
		},
	}
	cmd.Flags().DurationVar(&delay, "debounce", 0, "quiet interval before a query is applied (default from config)")
	return cmd
}

func (a *app) watch(ctx context.Context, src listing.Source[filter.FacultyCriteria], delay time.Duration) error {
	var mu sync.Mutex
	show := func(r listing.Result[filter.FacultyCriteria]) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(a.out, "== %s\n", describeCriteria(r.Criteria))
		if err := a.writeOutcome(facultyColumns, r.Outcome); err != nil {
			fmt.Fprintln(a.out, "error:", err)
		}
	}
	screen := listing.NewScreen(src,
		listing.WithCollection("faculty"),
		listing.WithDebounce(delay),
		listing.OnChange(show),
	)
	defer screen.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				screen.Flush()
				return nil
			}
			c, err := filter.ParseQuery(line)
			if err == nil {
				err = c.Validate()
			}
			if err != nil {
				mu.Lock()
				fmt.Fprintln(a.out, "invalid query:", err)
				mu.Unlock()
				continue
			}
			screen.Type(c.Normalized())
		}
	}
}

func describeCriteria(c filter.FacultyCriteria) string {
	fields := c.Set().Fields()
	if len(fields) == 0 {
		return "all profiles"
	}
	return fmt.Sprintf("filtered by %v", fields)
}
