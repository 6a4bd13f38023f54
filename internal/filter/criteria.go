package filter

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/casfos/registry/internal/taxonomy"
	apperrors "github.com/casfos/registry/pkg/errors"
)

// Record fields the typed criteria resolve to.
const (
	FieldName             = "name"
	FieldFacultyType      = "facultyType"
	FieldYearOfAllotment  = "yearOfAllotment"
	FieldEmail            = "email"
	FieldDomainKnowledge  = "domainKnowledge"
	FieldAreasOfExpertise = "areasOfExpertise"
	FieldInstitution      = "institution"
	FieldStatus           = "status"
	FieldModulesHandled   = "modulesHandled"
	FieldMajorDomains     = "majorDomains"
	FieldMinorDomains     = "minorDomains"
	FieldMobileNumber     = "mobileNumber"

	FieldAssetType       = "assetType"
	FieldAssetCategory   = "assetCategory"
	FieldItemName        = "items.itemName"
	FieldSubCategory     = "items.subCategory"
	FieldItemDescription = "items.itemDescription"
	FieldLocation        = "location"
)

// Display keys the listing screens sort by.
const (
	FacultySortKey = FieldName
	AssetSortKey   = FieldItemName
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FacultyCriteria is the filter form of the faculty listing screens. The JSON
// names are the ones the remote filter endpoint accepts.
type FacultyCriteria struct {
	FacultyType     string   `json:"facultyType,omitempty" validate:"max=32"`
	Name            string   `json:"name,omitempty" validate:"max=200"`
	YearOfAllotment string   `json:"yearOfAllotment,omitempty" validate:"omitempty,max=4,numeric"`
	Email           string   `json:"email,omitempty" validate:"max=254"`
	DomainKnowledge string   `json:"domainKnowledge,omitempty" validate:"max=200"`
	AreaOfExpertise string   `json:"areaOfExpertise,omitempty" validate:"max=200"`
	Institution     string   `json:"institution,omitempty" validate:"max=200"`
	Status          string   `json:"status,omitempty" validate:"omitempty,oneof=serving retired"`
	ModulesHandled  string   `json:"modulesHandled,omitempty" validate:"max=200"`
	MajorDomains    []string `json:"majorDomains,omitempty" validate:"max=9,dive,max=100"`
	MinorDomains    []string `json:"minorDomains,omitempty" validate:"max=100,dive,max=100"`
	MobileNumber    string   `json:"mobileNumber,omitempty" validate:"max=20"`
}

// Set converts the form into a criteria set. Minor domains are ignored
// unless at least one major domain is selected.
func (c FacultyCriteria) Set() Set {
	s := Set{
		Contains(FieldFacultyType, c.FacultyType),
		Contains(FieldName, c.Name),
		Equals(FieldYearOfAllotment, c.YearOfAllotment),
		Contains(FieldEmail, c.Email),
		Contains(FieldDomainKnowledge, c.DomainKnowledge),
		Contains(FieldAreasOfExpertise, c.AreaOfExpertise),
		Contains(FieldInstitution, c.Institution),
		Equals(FieldStatus, c.Status),
		Contains(FieldModulesHandled, c.ModulesHandled),
		All(FieldMajorDomains, c.MajorDomains...),
		Contains(FieldMobileNumber, c.MobileNumber),
	}
	majors := All(FieldMajorDomains, c.MajorDomains...)
	if majors.Applied() {
		s = append(s, All(FieldMinorDomains, c.MinorDomains...))
	}
	return s.Applied()
}

// Normalized returns a copy with surrounding whitespace trimmed, blank list
// entries removed and minor domains cleared when no major domain remains.
func (c FacultyCriteria) Normalized() FacultyCriteria {
	out := FacultyCriteria{
		FacultyType:     strings.TrimSpace(c.FacultyType),
		Name:            strings.TrimSpace(c.Name),
		YearOfAllotment: strings.TrimSpace(c.YearOfAllotment),
		Email:           strings.TrimSpace(c.Email),
		DomainKnowledge: strings.TrimSpace(c.DomainKnowledge),
		AreaOfExpertise: strings.TrimSpace(c.AreaOfExpertise),
		Institution:     strings.TrimSpace(c.Institution),
		Status:          strings.TrimSpace(c.Status),
		ModulesHandled:  strings.TrimSpace(c.ModulesHandled),
		MajorDomains:    nonBlank(c.MajorDomains),
		MinorDomains:    nonBlank(c.MinorDomains),
		MobileNumber:    strings.TrimSpace(c.MobileNumber),
	}
	if len(out.MajorDomains) == 0 {
		out.MinorDomains = nil
	}
	return out
}

// IsEmpty reports whether no criterion would be applied.
func (c FacultyCriteria) IsEmpty() bool {
	return len(c.Set()) == 0
}

// Validate checks field bounds and the selected domains against the
// taxonomy. Minor domains without a major are not an error since they are
// never applied.
func (c FacultyCriteria) Validate() error {
	n := c.Normalized()
	if err := structErr(validatorInstance().Struct(n)); err != nil {
		return err
	}
	if len(n.MajorDomains) == 0 {
		return nil
	}
	if err := taxonomy.Validate(n.MajorDomains, n.MinorDomains); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	return nil
}

// AssetCriteria is the filter form of the asset screens. Item fields search
// across every item of an entry.
type AssetCriteria struct {
	AssetType       string `json:"assetType,omitempty" validate:"omitempty,oneof=Permanent Consumable"`
	AssetCategory   string `json:"assetCategory,omitempty" validate:"max=100"`
	SubCategory     string `json:"subCategory,omitempty" validate:"max=100"`
	ItemName        string `json:"itemName,omitempty" validate:"max=200"`
	ItemDescription string `json:"itemDescription,omitempty" validate:"max=200"`
	Location        string `json:"location,omitempty" validate:"max=100"`
	Status          string `json:"status,omitempty" validate:"max=32"`
}

// Set converts the form into a criteria set.
func (c AssetCriteria) Set() Set {
	return Set{
		Equals(FieldAssetType, c.AssetType),
		Contains(FieldAssetCategory, c.AssetCategory),
		Contains(FieldSubCategory, c.SubCategory),
		Contains(FieldItemName, c.ItemName),
		Contains(FieldItemDescription, c.ItemDescription),
		Contains(FieldLocation, c.Location),
		Equals(FieldStatus, c.Status),
	}.Applied()
}

// Validate checks field bounds.
func (c AssetCriteria) Validate() error {
	return structErr(validatorInstance().Struct(c))
}

func structErr(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, strings.Join(fields, ", "))
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
