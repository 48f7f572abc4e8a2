package agent

import (
	"fmt"
	"math"
	"strings"

	"vita/internal/domain"
)

var activityMultipliers = map[string]float64{
	"sedentary":   1.2,
	"light":       1.375,
	"moderate":    1.55,
	"active":      1.725,
	"very_active": 1.9,
}

type TDEEInput struct {
	Age           int
	Sex           string
	WeightKg      float64
	HeightCm      float64
	ActivityLevel string
}

type TDEEResult struct {
	BMR        float64
	TDEE       float64
	Multiplier float64
	Input      TDEEInput
}

func (in TDEEInput) withProfile(p domain.UserProfile) TDEEInput {
	if in.Age == 0 && p.Age != nil {
		in.Age = *p.Age
	}
	if in.Sex == "" {
		in.Sex = p.Sex
	}
	if in.WeightKg == 0 && p.WeightKg != nil {
		in.WeightKg = *p.WeightKg
	}
	if in.HeightCm == 0 && p.HeightCm != nil {
		in.HeightCm = *p.HeightCm
	}
	if in.ActivityLevel == "" {
		in.ActivityLevel = p.ActivityLevel
	}
	return in
}

// Missing lists the inputs still needed. Activity level defaults to sedentary and is never missing.
func (in TDEEInput) Missing() []string {
	var out []string
	if in.Age <= 0 {
		out = append(out, domain.FieldAge)
	}
	if in.Sex == "" {
		out = append(out, domain.FieldSex)
	}
	if in.WeightKg <= 0 {
		out = append(out, domain.FieldWeightKg)
	}
	if in.HeightCm <= 0 {
		out = append(out, domain.FieldHeightCm)
	}
	return out
}

// CalculateTDEE applies Mifflin-St Jeor and the activity multiplier.
func CalculateTDEE(in TDEEInput) (TDEEResult, error) {
	if missing := in.Missing(); len(missing) > 0 {
		return TDEEResult{}, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	level := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(in.ActivityLevel), " ", "_"))
	if level == "" {
		level = "sedentary"
	}
	mult, ok := activityMultipliers[level]
	if !ok {
		return TDEEResult{}, fmt.Errorf("unknown activity level %q", in.ActivityLevel)
	}
	in.ActivityLevel = level
	bmr := 10*in.WeightKg + 6.25*in.HeightCm - 5*float64(in.Age)
	switch strings.ToLower(in.Sex) {
	case "male":
		bmr += 5
	case "female":
		bmr -= 161
	default:
		return TDEEResult{}, fmt.Errorf("unknown sex %q", in.Sex)
	}
	return TDEEResult{
		BMR:        math.Round(bmr),
		TDEE:       math.Round(bmr * mult),
		Multiplier: mult,
		Input:      in,
	}, nil
}

func (r TDEEResult) String() string {
	return fmt.Sprintf("BMR: %.0f kcal/day. TDEE (%s, x%g): %.0f kcal/day. Inputs: %d y, %s, %.1f kg, %.0f cm.",
		r.BMR, r.Input.ActivityLevel, r.Multiplier, r.TDEE, r.Input.Age, r.Input.Sex, r.Input.WeightKg, r.Input.HeightCm)
}
