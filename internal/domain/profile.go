package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	FieldName                = "name"
	FieldAge                 = "age"
	FieldSex                 = "sex"
	FieldWeightKg            = "weight_kg"
	FieldHeightCm            = "height_cm"
	FieldActivityLevel       = "activity_level"
	FieldDietaryRestrictions = "dietary_restrictions"
	FieldMedicalConditions   = "medical_conditions"
	FieldGoals               = "goals"
)

// ProfileFields lists every recognized profile field in display order.
var ProfileFields = []string{
	FieldName,
	FieldAge,
	FieldSex,
	FieldWeightKg,
	FieldHeightCm,
	FieldActivityLevel,
	FieldDietaryRestrictions,
	FieldMedicalConditions,
	FieldGoals,
}

var fieldLabels = map[string]string{
	FieldName:                "Name",
	FieldAge:                 "Age",
	FieldSex:                 "Sex",
	FieldWeightKg:            "Weight",
	FieldHeightCm:            "Height",
	FieldActivityLevel:       "Activity level",
	FieldDietaryRestrictions: "Dietary restrictions",
	FieldMedicalConditions:   "Medical conditions",
	FieldGoals:               "Goals",
}

// UserProfile holds what is known about the person behind a session.
// Every field is optional; nil and "" mean unknown.
type UserProfile struct {
	Name                string   `json:"name,omitempty"`
	Age                 *int     `json:"age,omitempty"`
	Sex                 string   `json:"sex,omitempty" enum:"male,female"`
	WeightKg            *float64 `json:"weight_kg,omitempty"`
	HeightCm            *float64 `json:"height_cm,omitempty"`
	ActivityLevel       string   `json:"activity_level,omitempty" enum:"sedentary,light,moderate,active,very_active"`
	DietaryRestrictions string   `json:"dietary_restrictions,omitempty"`
	MedicalConditions   string   `json:"medical_conditions,omitempty"`
	Goals               string   `json:"goals,omitempty"`
}

// Value renders a field as text; ok is false when the field is unset or unknown.
func (p UserProfile) Value(field string) (string, bool) {
	var v string
	switch field {
	case FieldName:
		v = p.Name
	case FieldAge:
		if p.Age != nil {
			v = strconv.Itoa(*p.Age)
		}
	case FieldSex:
		v = p.Sex
	case FieldWeightKg:
		if p.WeightKg != nil {
			v = formatNumber(*p.WeightKg)
		}
	case FieldHeightCm:
		if p.HeightCm != nil {
			v = formatNumber(*p.HeightCm)
		}
	case FieldActivityLevel:
		v = p.ActivityLevel
	case FieldDietaryRestrictions:
		v = p.DietaryRestrictions
	case FieldMedicalConditions:
		v = p.MedicalConditions
	case FieldGoals:
		v = p.Goals
	default:
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Missing returns the unset fields in display order.
func (p UserProfile) Missing() []string {
	missing := []string{}
	for _, f := range ProfileFields {
		if _, ok := p.Value(f); !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete reports whether every recognized field is set.
func (p UserProfile) Complete() bool {
	return len(p.Missing()) == 0
}

// Empty reports whether no field is set.
func (p UserProfile) Empty() bool {
	return len(p.Missing()) == len(ProfileFields)
}

// Merge overlays the set fields of update onto p and returns the result with the names of
// fields whose value changed. Unset fields in update never clear p.
func (p UserProfile) Merge(update UserProfile) (UserProfile, []string) {
	out := p
	var changed []string
	set := func(field string, apply func()) {
		nv, ok := update.Value(field)
		if !ok {
			return
		}
		if ov, had := p.Value(field); had && ov == nv {
			return
		}
		apply()
		changed = append(changed, field)
	}
	set(FieldName, func() { out.Name = strings.TrimSpace(update.Name) })
	set(FieldAge, func() { v := *update.Age; out.Age = &v })
	set(FieldSex, func() { out.Sex = strings.TrimSpace(update.Sex) })
	set(FieldWeightKg, func() { v := *update.WeightKg; out.WeightKg = &v })
	set(FieldHeightCm, func() { v := *update.HeightCm; out.HeightCm = &v })
	set(FieldActivityLevel, func() { out.ActivityLevel = strings.TrimSpace(update.ActivityLevel) })
	set(FieldDietaryRestrictions, func() { out.DietaryRestrictions = strings.TrimSpace(update.DietaryRestrictions) })
	set(FieldMedicalConditions, func() { out.MedicalConditions = strings.TrimSpace(update.MedicalConditions) })
	set(FieldGoals, func() { out.Goals = strings.TrimSpace(update.Goals) })
	return out, changed
}

// Only returns a copy holding just the named fields.
func (p UserProfile) Only(fields ...string) UserProfile {
	var out UserProfile
	for _, f := range fields {
		switch f {
		case FieldName:
			out.Name = p.Name
		case FieldAge:
			out.Age = p.Age
		case FieldSex:
			out.Sex = p.Sex
		case FieldWeightKg:
			out.WeightKg = p.WeightKg
		case FieldHeightCm:
			out.HeightCm = p.HeightCm
		case FieldActivityLevel:
			out.ActivityLevel = p.ActivityLevel
		case FieldDietaryRestrictions:
			out.DietaryRestrictions = p.DietaryRestrictions
		case FieldMedicalConditions:
			out.MedicalConditions = p.MedicalConditions
		case FieldGoals:
			out.Goals = p.Goals
		}
	}
	return out
}

// Summary renders one "Label: value" line per set field.
func (p UserProfile) Summary() string {
	var lines []string
	for _, f := range ProfileFields {
		v, ok := p.Value(f)
		if !ok {
			continue
		}
		switch f {
		case FieldWeightKg:
			v += " kg"
		case FieldHeightCm:
			v += " cm"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", fieldLabels[f], v))
	}
	return strings.Join(lines, "\n")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
