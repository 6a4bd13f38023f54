package filter

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// QueryError lists the keys ParseQuery did not recognise. The criteria
// returned alongside it hold everything that was understood.
type QueryError struct {
	UnknownKeys []string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("unknown query keys: %s", strings.Join(e.UnknownKeys, ", "))
}

// ParseQuery reads a one-line faculty query of key:value terms, for example
//
//	name:asha status:serving major:"Disaster Management" module:gis
//
// Values containing spaces are double-quoted. Words without a key are joined
// into the name criterion. major and minor may repeat.
func ParseQuery(query string) (FacultyCriteria, error) {
	var (
		c       FacultyCriteria
		names   []string
		unknown []string
	)
	for _, word := range splitQuoted(query) {
		key, value, ok := strings.Cut(word, ":")
		if !ok || key == "" {
			names = append(names, word)
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(key) {
		case "name":
			names = append(names, value)
		case "type", "facultytype":
			c.FacultyType = value
		case "year", "yearofallotment":
			c.YearOfAllotment = value
		case "email":
			c.Email = value
		case "knowledge", "domainknowledge":
			c.DomainKnowledge = value
		case "expertise", "areaofexpertise":
			c.AreaOfExpertise = value
		case "institution":
			c.Institution = value
		case "status":
			c.Status = strings.ToLower(value)
		case "module", "modules", "moduleshandled":
			c.ModulesHandled = value
		case "major", "majordomains":
			c.MajorDomains = appendUnique(c.MajorDomains, value)
		case "minor", "minordomains":
			c.MinorDomains = appendUnique(c.MinorDomains, value)
		case "mobile", "mobilenumber":
			c.MobileNumber = value
		default:
			if !slices.Contains(unknown, key) {
				unknown = append(unknown, key)
			}
		}
	}
	c.Name = strings.TrimSpace(strings.Join(names, " "))
	if len(unknown) > 0 {
		return c, &QueryError{UnknownKeys: unknown}
	}
	return c, nil
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// splitQuoted splits on whitespace outside double quotes and drops the
// quotes themselves.
func splitQuoted(s string) []string {
	var (
		words   []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	flush := func() {
		if started {
			words = append(words, cur.String())
		}
		cur.Reset()
		started = false
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	flush()
	return words
}
