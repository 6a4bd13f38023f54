// Package taxonomy holds the fixed two-level classification of subject
// domains used to describe faculty expertise. Each major domain owns an
// ordered list of minor domains; a minor domain only has meaning together with
// its major. The table is static and never mutated at runtime.
package taxonomy

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Domain is one major domain with its minor domains in display order.
type Domain struct {
	Name   string   `json:"name"`
	Minors []string `json:"minors"`
}

var domains = []Domain{
	{
		Name: "Forest Management",
		Minors: []string{
			"Silviculture",
			"Forest Mensuration",
			"Working Plan",
			"Forest Survey and Demarcation",
			"Forest Utilization",
			"Forest Protection",
			"Forest Fire Management",
			"Nursery Technology",
			"Plantation Technology",
			"Non-Timber Forest Produce",
			"Forest Certification",
			"Forest Economics",
			"Forest Engineering",
			"Agroforestry",
			"Bamboo and Rattan",
			"Mangrove Management",
			"Urban Forestry",
			"Forest Genetics and Tree Improvement",
			"Forest Soil Science",
		},
	},
	{
		Name: "Wildlife Management",
		Minors: []string{
			"Wildlife Biology",
			"Protected Area Management",
			"Human-Wildlife Conflict",
			"Wildlife Census Techniques",
			"Wildlife Crime Control",
			"Wildlife Health and Veterinary Care",
			"Habitat Management",
			"Eco-tourism",
			"Captive Management and Zoos",
		},
	},
	{
		Name: "Environment",
		Minors: []string{
			"Climate Change",
			"Biodiversity Conservation",
			"Environmental Impact Assessment",
			"Pollution Control",
			"Wetland Conservation",
			"Watershed Management",
			"Soil and Water Conservation",
			"Ecosystem Services",
			"Carbon Sequestration",
			"Environmental Laws",
			"Desertification and Land Degradation",
		},
	},
	{
		Name: "Disaster Management",
		Minors: []string{
			"Flood Management",
			"Landslide Management",
			"Cyclone Preparedness",
			"Drought Management",
			"Search and Rescue",
			"Disaster Risk Reduction",
		},
	},
	{
		Name: "Law and Administration",
		Minors: []string{
			"Indian Forest Act",
			"Forest Conservation Act",
			"Wildlife Protection Act",
			"Forest Rights Act",
			"Criminal Procedure and Evidence",
			"Service Rules and Conduct",
			"Financial Management and Accounts",
			"Office Procedure",
			"Right to Information",
			"Public Procurement",
		},
	},
	{
		Name: "Social Forestry and Livelihoods",
		Minors: []string{
			"Joint Forest Management",
			"Participatory Rural Appraisal",
			"Tribal Development",
			"Self Help Groups",
			"Rural Livelihoods",
			"Gender and Forestry",
			"Extension and Communication",
		},
	},
	{
		Name: "Information Technology",
		Minors: []string{
			"Geographic Information Systems",
			"Remote Sensing",
			"Global Positioning Systems",
			"Drone Applications",
			"E-Governance",
			"Data Analysis and Statistics",
			"Cyber Security",
		},
	},
	{
		Name: "Management and Soft Skills",
		Minors: []string{
			"Leadership",
			"Communication Skills",
			"Team Building",
			"Conflict Resolution",
			"Stress Management",
			"Project Management",
			"Ethics and Integrity",
			"Public Speaking",
		},
	},
	{
		Name: "Field Skills",
		Minors: []string{
			"Map Reading",
			"First Aid",
			"Weapons Training",
			"Physical Fitness",
			"Trekking and Survival",
		},
	},
}

var byName = func() map[string][]string {
	m := make(map[string][]string, len(domains))
	for _, d := range domains {
		m[d.Name] = d.Minors
	}
	return m
}()

// Majors returns the major domains in display order.
func Majors() []string {
	out := make([]string, len(domains))
	for i, d := range domains {
		out[i] = d.Name
	}
	return out
}

// MinorsOf returns the minor domains of major in display order. An empty or
// unknown major yields an empty, non-nil list.
func MinorsOf(major string) []string {
	minors, ok := byName[major]
	if !ok {
		return []string{}
	}
	return slices.Clone(minors)
}

// All returns a copy of the whole table.
func All() []Domain {
	out := make([]Domain, len(domains))
	for i, d := range domains {
		out[i] = Domain{Name: d.Name, Minors: slices.Clone(d.Minors)}
	}
	return out
}

// IsMajor reports whether name is a major domain.
func IsMajor(name string) bool {
	_, ok := byName[name]
	return ok
}

// MinorsFor returns the union of the minor domains of the given majors, in
// table order with duplicates removed.
func MinorsFor(majors []string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, d := range domains {
		if !slices.Contains(majors, d.Name) {
			continue
		}
		for _, minor := range d.Minors {
			if _, dup := seen[minor]; dup {
				continue
			}
			seen[minor] = struct{}{}
			out = append(out, minor)
		}
	}
	return out
}

// ValidationError lists the domain names that failed validation.
type ValidationError struct {
	UnknownMajors  []string
	OrphanedMinors []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.UnknownMajors) > 0 {
		parts = append(parts, fmt.Sprintf("unknown major domains: %s", strings.Join(e.UnknownMajors, ", ")))
	}
	if len(e.OrphanedMinors) > 0 {
		parts = append(parts, fmt.Sprintf("minor domains not under a selected major: %s", strings.Join(e.OrphanedMinors, ", ")))
	}
	return strings.Join(parts, "; ")
}

// Validate checks that every major exists and every minor belongs to one of
// the selected majors. A minor selection without any major is orphaned.
func Validate(majors, minors []string) error {
	verr := &ValidationError{}
	for _, major := range majors {
		if !IsMajor(major) {
			verr.UnknownMajors = append(verr.UnknownMajors, major)
		}
	}
	allowed := MinorsFor(majors)
	for _, minor := range minors {
		if !slices.Contains(allowed, minor) {
			verr.OrphanedMinors = append(verr.OrphanedMinors, minor)
		}
	}
	if len(verr.UnknownMajors) == 0 && len(verr.OrphanedMinors) == 0 {
		return nil
	}
	sort.Strings(verr.UnknownMajors)
	sort.Strings(verr.OrphanedMinors)
	return verr
}
