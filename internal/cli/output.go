package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/remotefilter"
)

// column renders one table cell from a record.
type column struct {
	header string
	value  func(record.Doc) string
}

func field(header, path string) column {
	return column{header: header, value: func(d record.Doc) string {
		return strings.Join(d.Strings(path), ", ")
	}}
}

var facultyColumns = []column{
	field("NAME", "name"),
	field("TYPE", "facultyType"),
	field("STATUS", "status"),
	field("MAJOR DOMAINS", "majorDomains"),
	field("EMAIL", "email"),
	field("ID", "_id"),
}

var assetColumns = []column{
	field("TYPE", "assetType"),
	field("CATEGORY", "assetCategory"),
	field("LOCATION", "location"),
	field("ITEMS", "items.itemName"),
	field("ID", "_id"),
}

var itemColumns = []column{
	field("ITEM", "itemName"),
	field("CATEGORY", "assetCategory"),
	field("SUB-CATEGORY", "subCategory"),
	field("DESCRIPTION", "itemDescription"),
	field("COUNT", "count"),
}

func writeTable(w io.Writer, cols []column, docs []record.Doc) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.header
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	cells := make([]string, len(cols))
	for _, d := range docs {
		for i, c := range cols {
			cells[i] = c.value(d)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeOutcome prints a search outcome. A failed outcome is returned as an
// error after its message is printed.
func (a *app) writeOutcome(cols []column, out remotefilter.Outcome) error {
	if a.output == outputJSON {
		if err := writeJSON(a.out, out); err != nil {
			return err
		}
	} else {
		switch out.State {
		case remotefilter.StateResults:
			if err := writeTable(a.out, cols, out.Records); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "\n%d record(s)\n", out.Count)
		default:
			fmt.Fprintln(a.out, out.Message)
		}
	}
	if out.State == remotefilter.StateRequestFailed {
		return out.Err
	}
	return nil
}
