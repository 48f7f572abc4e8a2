package profile

import (
	"regexp"
	"strconv"
	"strings"

	"vita/internal/domain"
)

// fieldRule recognizes one value of one field. Rules are tried in table order and the first
// match per field wins.
type fieldRule struct {
	field string
	re    *regexp.Regexp
	set   func(p *domain.UserProfile, m []string) bool
}

func keyword(field string, pattern string, value string) fieldRule {
	return fieldRule{
		field: field,
		re:    regexp.MustCompile(pattern),
		set: func(p *domain.UserProfile, _ []string) bool {
			switch field {
			case domain.FieldSex:
				p.Sex = value
			case domain.FieldActivityLevel:
				p.ActivityLevel = value
			case domain.FieldDietaryRestrictions:
				p.DietaryRestrictions = value
			case domain.FieldMedicalConditions:
				p.MedicalConditions = value
			case domain.FieldGoals:
				p.Goals = value
			default:
				return false
			}
			return true
		},
	}
}

func number(field string, pattern string, lo, hi float64) fieldRule {
	return fieldRule{
		field: field,
		re:    regexp.MustCompile(pattern),
		set: func(p *domain.UserProfile, m []string) bool {
			raw := firstGroup(m)
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v < lo || v > hi {
				return false
			}
			switch field {
			case domain.FieldAge:
				age := int(v)
				p.Age = &age
			case domain.FieldWeightKg:
				p.WeightKg = &v
			case domain.FieldHeightCm:
				p.HeightCm = &v
			default:
				return false
			}
			return true
		},
	}
}

// Hebrew letters are not word characters for \b, so Hebrew alternatives are matched bare.
var rules = []fieldRule{
	{
		field: domain.FieldName,
		re:    regexp.MustCompile(`(?i)(?:\bmy name is|קוראים לי|שמי)\s+(\p{L}[\p{L}'-]{1,30})`),
		set: func(p *domain.UserProfile, m []string) bool {
			name := []rune(firstGroup(m))
			if len(name) == 0 {
				return false
			}
			p.Name = strings.ToUpper(string(name[:1])) + string(name[1:])
			return true
		},
	},
	number(domain.FieldAge, `(?:(?:\baged?|\bben|בן|בת|גיל)[:\s]*(\d{1,3})\b)|(?:\b(\d{1,3})[\s-]*(?:years?[\s-]*old|y/?o\b|שנים|שנה))`, 10, 120),
	number(domain.FieldWeightKg, `\b(\d{2,3}(?:\.\d+)?)\s*(?:kg\b|kgs\b|kilos?\b|קילו|ק"ג|קג)`, 20, 400),
	number(domain.FieldHeightCm, `\b(\d{2,3}(?:\.\d+)?)\s*(?:cm\b|ס"מ|סמ|סנטימטר)`, 50, 250),
	keyword(domain.FieldSex, `(?:^|[^\p{L}])(?:male|זכר|גבר)(?:$|[^\p{L}])`, "male"),
	keyword(domain.FieldSex, `(?:^|[^\p{L}])(?:female|woman|נקבה|אישה)(?:$|[^\p{L}])`, "female"),
	keyword(domain.FieldActivityLevel, `\bsedentary\b|\bdesk job\b`, "sedentary"),
	keyword(domain.FieldActivityLevel, `\bvery[ _]active\b|\bathlete\b`, "very_active"),
	keyword(domain.FieldActivityLevel, `\blight(?:ly)?[ _](?:active|activity|exercise)\b`, "light"),
	keyword(domain.FieldActivityLevel, `\bmoderate(?:ly)?[ _](?:active|activity|exercise)\b`, "moderate"),
	keyword(domain.FieldActivityLevel, `\bactive\b`, "active"),
	keyword(domain.FieldDietaryRestrictions, `\bvegan\b|טבעוני`, "vegan"),
	keyword(domain.FieldDietaryRestrictions, `\bvegetarian\b|צמחוני`, "vegetarian"),
	keyword(domain.FieldDietaryRestrictions, `\bgluten\b|\bceliac\b|גלוטן`, "gluten-free"),
	keyword(domain.FieldDietaryRestrictions, `\bkosher\b|כשר`, "kosher"),
	keyword(domain.FieldDietaryRestrictions, `\blactose\b|\bdairy[- ]free\b|לקטוז`, "lactose-free"),
	keyword(domain.FieldMedicalConditions, `\b(?:type [12] )?diabet(?:es|ic)\b|סוכרת`, "diabetes"),
	keyword(domain.FieldMedicalConditions, `\bhypertension\b|\bhigh blood pressure\b|לחץ דם גבוה`, "hypertension"),
	keyword(domain.FieldMedicalConditions, `\bhigh cholesterol\b|כולסטרול`, "high cholesterol"),
	keyword(domain.FieldMedicalConditions, `\bpcos\b`, "PCOS"),
	keyword(domain.FieldGoals, `\blos(?:e|ing) weight\b|\bweight loss\b|לרדת במשקל`, "weight loss"),
	keyword(domain.FieldGoals, `\b(?:gain|build)(?:ing)? muscle\b|\bmuscle gain\b|\bbulk(?:ing)?\b|לעלות במסה`, "muscle gain"),
	keyword(domain.FieldGoals, `\bcut(?:ting)?\b|דיאטה`, "weight loss"),
	keyword(domain.FieldGoals, `\bmaintain(?:ing)?\b|\bmaintenance\b`, "maintenance"),
}

// Extract recognizes profile fields in free text. It never calls a model and has no side effects.
func Extract(text string) domain.UserProfile {
	var out domain.UserProfile
	lowered := strings.ToLower(text)
	seen := map[string]bool{}
	for _, r := range rules {
		if seen[r.field] {
			continue
		}
		src := lowered
		if r.field == domain.FieldName {
			src = text
		}
		m := r.re.FindStringSubmatch(src)
		if m == nil {
			continue
		}
		if r.set(&out, m) {
			seen[r.field] = true
		}
	}
	return out
}

// Apply extracts fields from text and merges them into p. It returns the merged profile and the
// names of fields that changed.
func Apply(p domain.UserProfile, text string) (domain.UserProfile, []string) {
	return p.Merge(Extract(text))
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
