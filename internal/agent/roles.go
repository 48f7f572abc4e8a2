package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"vita/internal/domain"
	"vita/internal/llm"
	"vita/internal/retrieval"
)

// Info describes a specialist for team listings.
type Info struct {
	Name        domain.Role `json:"name"`
	Description string      `json:"description"`
	Tools       []string    `json:"tools"`
}

type roleDef struct {
	role        domain.Role
	description string
	domainText  string
	outOfScope  string
	fields      []string
	tools       []ToolKind
	answerStyle string
}

var roleDefs = []roleDef{
	{
		role:        domain.RoleNutrition,
		description: "Diet, food, nutrients, meals, ingredients and calorie calculation. Has a nutrition database and a TDEE calculator.",
		domainText:  "food, meals, nutrients, ingredients, diets and calorie needs",
		outOfScope:  "exercise programming, sleep, stress management, research paper analysis",
		fields: []string{
			domain.FieldAge, domain.FieldSex, domain.FieldWeightKg, domain.FieldHeightCm,
			domain.FieldActivityLevel, domain.FieldDietaryRestrictions, domain.FieldMedicalConditions, domain.FieldGoals,
		},
		tools:       []ToolKind{ToolSearchNutrition, ToolCalculateTDEE},
		answerStyle: "Give precise, practical dietary recommendations with amounts where useful.",
	},
	{
		role:        domain.RoleScience,
		description: "Evidence, research, clinical trials and medical facts. Has live PubMed search and a research database.",
		domainText:  "scientific evidence, clinical studies, mechanisms and medical facts about health and nutrition",
		outOfScope:  "meal planning, calorie calculations, personal coaching",
		fields:      []string{domain.FieldAge, domain.FieldSex, domain.FieldMedicalConditions},
		tools:       []ToolKind{ToolSearchPubMed, ToolSearchResearch},
		answerStyle: "Summarize what the evidence shows and how strong it is. Cite PMIDs when you have them.",
	},
	{
		role:        domain.RoleWellness,
		description: "Stress, exercise, sleep, mindfulness and habits. Has a wellness research database.",
		domainText:  "exercise, stress, sleep, mindfulness, habits and mental wellbeing",
		outOfScope:  "specific food or nutrient recommendations, calorie calculations, research paper analysis",
		fields:      []string{domain.FieldAge, domain.FieldActivityLevel, domain.FieldMedicalConditions, domain.FieldGoals},
		tools:       []ToolKind{ToolSearchWellness},
		answerStyle: "Lead with one key takeaway, then actionable tips as bullet points.",
	},
}

// BoundaryPrefix starts every answer a specialist gives for a task outside its domain.
const BoundaryPrefix = "Outside my area:"

// Team holds one Specialist per role.
type Team struct {
	specialists map[domain.Role]*Specialist
}

type TeamOptions struct {
	Gateway       llm.Gateway
	Backends      Backends
	MaxIterations int
	Log           zerolog.Logger
}

// NewTeam wires the three specialists with their tool tables.
func NewTeam(opts TeamOptions) *Team {
	b := opts.Backends
	if b.TopK <= 0 {
		b.TopK = retrieval.DefaultTopK
	}
	if b.LiveMax <= 0 {
		b.LiveMax = 3
	}
	catalog := map[ToolKind]Tool{
		ToolSearchNutrition: b.retrieveTool(ToolSearchNutrition,
			"Search the nutrition database (Open Food Facts and USDA) for foods, nutrients and products.",
			"", retrieval.NamespaceOpenFoodFacts, retrieval.NamespaceUSDA),
		ToolCalculateTDEE: tdeeTool(),
		ToolSearchPubMed:  b.pubmedTool(ToolSearchResearch),
		ToolSearchResearch: b.retrieveTool(ToolSearchResearch,
			"Search the indexed research abstracts.",
			"", retrieval.NamespacePubMed),
		ToolSearchWellness: b.retrieveTool(ToolSearchWellness,
			"Search wellness research on exercise, sleep, stress and mindfulness.",
			ToolSearchResearch, retrieval.NamespaceWellness),
	}
	t := &Team{specialists: map[domain.Role]*Specialist{}}
	for _, def := range roleDefs {
		table := map[ToolKind]Tool{}
		for _, k := range def.tools {
			table[k] = catalog[k]
			// fallbacks resolve within the role table even when not advertised
			if fb := catalog[k].Fallback; fb != "" {
				if _, ok := table[fb]; !ok {
					table[fb] = catalog[fb]
				}
			}
		}
		t.specialists[def.role] = &Specialist{
			def:           def,
			tools:         table,
			gateway:       opts.Gateway,
			maxIterations: opts.MaxIterations,
			log:           opts.Log.With().Str("specialist", string(def.role)).Logger(),
		}
	}
	return t
}

// Get returns the specialist for a role.
func (t *Team) Get(role domain.Role) (*Specialist, bool) {
	s, ok := t.specialists[role]
	return s, ok
}

// Info lists the team in dispatch order.
func (t *Team) Info() []Info {
	var out []Info
	for _, r := range domain.Roles() {
		s, ok := t.specialists[r]
		if !ok {
			continue
		}
		out = append(out, s.Info())
	}
	return out
}

// Directory renders the team as one line per specialist for the orchestrator prompt.
func (t *Team) Directory() string {
	var lines []string
	for _, info := range t.Info() {
		lines = append(lines, fmt.Sprintf("  - %s: %s", info.Name, info.Description))
	}
	return strings.Join(lines, "\n")
}

func (s *Specialist) Info() Info {
	var tools []string
	for _, k := range s.def.tools {
		tools = append(tools, string(k))
	}
	sort.Strings(tools)
	return Info{Name: s.def.role, Description: s.def.description, Tools: tools}
}

func (s *Specialist) systemPrompt(final bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s of Vita, a wellness and nutrition coach.\n", s.def.role)
	fmt.Fprintf(&b, "You ONLY handle %s.\nYou do NOT handle: %s.\n", s.def.domainText, s.def.outOfScope)
	fmt.Fprintf(&b, "If the task is clearly outside your domain, finish with an answer that starts with %q and one sentence on which expert fits better.\n\n", BoundaryPrefix)
	if final {
		b.WriteString("This is your last turn. Write your final answer now using what you have gathered; do not call any tool.\n")
		fmt.Fprintf(&b, "%s Keep it under 8 sentences.\n", s.def.answerStyle)
		return b.String()
	}
	b.WriteString("Each turn output exactly one block:\n\nThought: <your reasoning>\nAction: <one action>\nAction Input: <input>\n\nAvailable actions:\n")
	for _, k := range s.def.tools {
		fmt.Fprintf(&b, "- %s(<query>): %s\n", k, s.tools[k].Description)
	}
	b.WriteString("- finish(<answer>): return your final answer\n\n")
	b.WriteString("Rules:\n- Ground your answer: search before finishing unless the task needs no facts.\n")
	b.WriteString("- Keep search queries short and specific.\n- Do NOT output anything after \"Action Input:\".\n")
	fmt.Fprintf(&b, "- %s Keep it under 8 sentences.\n", s.def.answerStyle)
	return b.String()
}
