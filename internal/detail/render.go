package detail

import (
	"fmt"
	"io"
	"strings"
)

// Render writes rows as indented text, one value per line.
func Render(w io.Writer, rows []Row) error {
	r := renderer{w: w}
	r.rows(rows, 0)
	return r.err
}

type renderer struct {
	w   io.Writer
	err error
}

func (r *renderer) printf(indent int, format string, args ...any) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.w, strings.Repeat("  ", indent)+format+"\n", args...)
}

func (r *renderer) rows(rows []Row, indent int) {
	for _, row := range rows {
		switch row.Value.Kind {
		case KindScalar, KindImage, KindTruncated:
			r.printf(indent, "%s: %s", row.Label, row.Value.Text)
		default:
			r.printf(indent, "%s:", row.Label)
			r.node(row.Value, indent+1)
		}
	}
}

func (r *renderer) node(n Node, indent int) {
	switch n.Kind {
	case KindList:
		if len(n.Items) == 0 {
			r.printf(indent, "%s", Placeholder)
			return
		}
		for i, item := range n.Items {
			switch item.Kind {
			case KindList, KindMap:
				r.printf(indent, "- [%d]", i+1)
				r.node(item, indent+1)
			default:
				r.printf(indent, "- %s", item.Text)
			}
		}
	case KindMap:
		if len(n.Rows) == 0 {
			r.printf(indent, "%s", Placeholder)
			return
		}
		r.rows(n.Rows, indent)
	default:
		r.printf(indent, "%s", n.Text)
	}
}
