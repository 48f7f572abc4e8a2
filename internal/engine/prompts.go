package engine

import (
	"fmt"
	"strings"

	"vita/internal/domain"
)

const headPromptTemplate = `You are the Head Coach of Vita, an AI wellness and nutrition coach.

Your scope is ONLY: nutrition, diet, food, wellness, exercise, sleep, stress, mindfulness, and health research.

Each turn output exactly one block:

Thought: <reasoning>
Action: <action name>
Action Input: <input>

Available actions:

1) call_specialists
   Call one or more specialists at once. List each on its own line:
   SpecialistName | task description

   Specialists:
%s

   Example:
     Action: call_specialists
     Action Input: Nutrition Expert | List vegan high-protein breakfast options
     Science Researcher | Evidence on plant protein for muscle building

2) finish
   Action Input: your complete, friendly final response to the user

Rules:
- Always start with a Thought.
- OFF-TOPIC: if the question is clearly unrelated to health, nutrition, wellness or fitness, call finish right away. Say you are a wellness and nutrition coach, that you cannot help with that topic, and suggest questions you can help with.
- ALWAYS ANSWER: work with what you have and make reasonable assumptions. Never block on missing details; end with a short note on what the user could share for a more precise plan.
- ROUTING: call only the specialists the question needs. One is fine; two or three only when the question spans domains.
- REVIEW: after specialists respond, check their Observations for relevance and contradictions. Drop empty or failed answers. You may call a specialist that is still missing, but NEVER call one that already returned an Observation.
- When the information is verified, call finish.
- Do NOT output anything after the Action Input line.`

const synthesisPrompt = `You are the Head Coach of Vita. First verify the specialist outputs: discard anything irrelevant or contradictory, and if a point is uncertain say so briefly.
Then format the answer for easy reading:
- Start with one short sentence that directly answers the question.
- Then 2-4 short sections, each with a bold header and 1-3 sentences. Use bullet points for lists.
- End with one practical next step.
- If PMIDs or references are available, add a small References line at the end.
Keep it to 8-15 lines.`

func headPrompt(directory string) string {
	return fmt.Sprintf(headPromptTemplate, directory)
}

// contextBlock renders the profile and the trailing history for the head agent.
func contextBlock(p domain.UserProfile, history []domain.ConversationTurn, turns int) string {
	var b strings.Builder
	if summary := p.Summary(); summary != "" {
		fmt.Fprintf(&b, "Known user profile:\n%s\n\n", summary)
	}
	if len(history) > turns {
		history = history[len(history)-turns:]
	}
	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", speaker(t.Role), strings.TrimSpace(t.Content))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func speaker(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return "User"
	}
	return strings.ToUpper(role[:1]) + strings.ToLower(role[1:])
}

func observations(results []domain.SpecialistResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		text := strings.TrimSpace(r.Summary)
		if text == "" {
			text = "No response"
		}
		if r.Degraded && r.Note != "" {
			text = fmt.Sprintf("%s\n(note: %s)", text, r.Note)
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", r.Role, text))
	}
	return strings.Join(parts, "\n\n")
}

func synthesisInput(question, profile, draft string, results []domain.SpecialistResult, gaps []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n\n", question)
	if profile != "" {
		fmt.Fprintf(&b, "Known user profile:\n%s\n\n", profile)
	}
	if len(results) > 0 {
		fmt.Fprintf(&b, "Specialist outputs (review for quality before using):\n%s\n\n", observations(results))
	}
	if draft != "" {
		fmt.Fprintf(&b, "Head coach draft:\n%s\n\n", draft)
	}
	if len(gaps) > 0 {
		b.WriteString("Unresolved gaps (mention them briefly as a caveat):\n")
		for _, g := range gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
		b.WriteString("\n")
	}
	b.WriteString("Provide your verified, final answer:")
	return b.String()
}

// summarize returns the first sentence of text, capped for progress display.
func summarize(text string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	first, _, _ = strings.Cut(first, ". ")
	return clip(first, 100)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
