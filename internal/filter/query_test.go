package filter_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casfos/registry/internal/filter"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		query string
		want  filter.FacultyCriteria
	}{
		{"", filter.FacultyCriteria{}},
		{"   ", filter.FacultyCriteria{}},
		{"asha", filter.FacultyCriteria{Name: "asha"}},
		{"name:asha status:Serving", filter.FacultyCriteria{Name: "asha", Status: "serving"}},
		{
			`major:Environment major:"Disaster Management" minor:"Flood Management"`,
			filter.FacultyCriteria{
				MajorDomains: []string{"Environment", "Disaster Management"},
				MinorDomains: []string{"Flood Management"},
			},
		},
		{"major:Environment major:Environment", filter.FacultyCriteria{MajorDomains: []string{"Environment"}}},
		{
			"type:internal year:2011 module:gis mobile:98765 email:casfos",
			filter.FacultyCriteria{
				FacultyType:     "internal",
				YearOfAllotment: "2011",
				ModulesHandled:  "gis",
				MobileNumber:    "98765",
				Email:           "casfos",
			},
		},
		{
			`"Asha Rao" institution:"IIFM Bhopal" expertise:hydrology knowledge:gis`,
			filter.FacultyCriteria{
				Name:            "Asha Rao",
				Institution:     "IIFM Bhopal",
				AreaOfExpertise: "hydrology",
				DomainKnowledge: "gis",
			},
		},
		{"ravi kumar", filter.FacultyCriteria{Name: "ravi kumar"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := filter.ParseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryReportsUnknownKeys(t *testing.T) {
	got, err := filter.ParseQuery("name:asha colour:green colour:blue rank:1")
	require.Error(t, err)

	var qerr *filter.QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, []string{"colour", "rank"}, qerr.UnknownKeys)
	assert.Equal(t, "asha", got.Name, "known keys are still parsed")
}

func TestParseQueryLeadingColonIsAName(t *testing.T) {
	got, err := filter.ParseQuery(":odd")
	require.NoError(t, err)
	assert.Equal(t, ":odd", got.Name)
}
