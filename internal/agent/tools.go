package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"

	"vita/internal/domain"
	"vita/internal/livesearch"
	"vita/internal/llm"
	"vita/internal/retrieval"
)

// ToolKind names a tool a specialist may call.
type ToolKind string

const (
	ToolSearchNutrition ToolKind = "search_nutrition"
	ToolCalculateTDEE   ToolKind = "calculate_tdee"
	ToolSearchPubMed    ToolKind = "search_pubmed"
	ToolSearchResearch  ToolKind = "search_research"
	ToolSearchWellness  ToolKind = "search_wellness"
)

// ToolCall is a parsed tool request. Args is a JSON object.
type ToolCall struct {
	Kind ToolKind
	Args json.RawMessage
}

// ErrMalformedOutput marks model output that names an unknown tool or cannot be parsed.
var ErrMalformedOutput = errors.New("malformed model output")

// ErrToolUnavailable is returned by a tool whose backend is not configured.
var ErrToolUnavailable = errors.New("tool unavailable")

// ToolError wraps a failed tool invocation.
type ToolError struct {
	Tool ToolKind
	Err  error
}

func (e *ToolError) Error() string { return fmt.Sprintf("tool %s: %v", e.Tool, e.Err) }

func (e *ToolError) Unwrap() error { return e.Err }

// Handler runs a tool. The profile is the role-scoped slice of the user profile.
type Handler func(ctx context.Context, args json.RawMessage, profile domain.UserProfile) (string, error)

// Tool is one entry of a role's lookup table. Fallback names the tool tried when Handler fails.
type Tool struct {
	Kind        ToolKind
	Description string
	Params      any
	Handler     Handler
	Fallback    ToolKind
}

// Spec renders the tool for the model.
func (t Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: string(t.Kind), Description: t.Description, Parameters: schemaFor(t.Params)}
}

func schemaFor(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(v)
	s.Version = ""
	return s
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Short search query of a few keywords"`
}

type tdeeArgs struct {
	Age           int     `json:"age,omitempty" jsonschema:"description=Age in years"`
	Sex           string  `json:"sex,omitempty" jsonschema:"enum=male,enum=female"`
	WeightKg      float64 `json:"weight_kg,omitempty" jsonschema:"description=Body weight in kilograms"`
	HeightCm      float64 `json:"height_cm,omitempty" jsonschema:"description=Height in centimeters"`
	ActivityLevel string  `json:"activity_level,omitempty" jsonschema:"enum=sedentary,enum=light,enum=moderate,enum=active,enum=very_active"`
}

// Backends are the gateways the built-in tools call.
type Backends struct {
	Retriever retrieval.Retriever
	Searcher  livesearch.Searcher
	TopK      int
	LiveMax   int
}

func decodeQuery(args json.RawMessage) (string, error) {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("%w: tool arguments: %v", ErrMalformedOutput, err)
	}
	q := strings.TrimSpace(a.Query)
	if q == "" {
		return "", fmt.Errorf("%w: empty query", ErrMalformedOutput)
	}
	return q, nil
}

func (b Backends) retrieveTool(kind ToolKind, desc string, fallback ToolKind, namespaces ...retrieval.Namespace) Tool {
	return Tool{
		Kind:        kind,
		Description: desc,
		Params:      &searchArgs{},
		Fallback:    fallback,
		Handler: func(ctx context.Context, args json.RawMessage, _ domain.UserProfile) (string, error) {
			q, err := decodeQuery(args)
			if err != nil {
				return "", err
			}
			if b.Retriever == nil {
				return "", ErrToolUnavailable
			}
			return b.retrieveAll(ctx, q, namespaces)
		},
	}
}

// retrieveAll queries every namespace concurrently. It fails only when all of them fail.
func (b Backends) retrieveAll(ctx context.Context, query string, namespaces []retrieval.Namespace) (string, error) {
	hits := make([][]domain.Passage, len(namespaces))
	errs := make([]error, len(namespaces))
	var g errgroup.Group
	for i, ns := range namespaces {
		g.Go(func() error {
			hits[i], errs[i] = b.Retriever.Retrieve(ctx, query, ns, b.TopK)
			return nil
		})
	}
	g.Wait()
	var sections []string
	failed := 0
	for i, ns := range namespaces {
		if errs[i] != nil {
			failed++
			continue
		}
		if len(hits[i]) == 0 {
			continue
		}
		sections = append(sections, formatPassages(ns, hits[i]))
	}
	if failed == len(namespaces) {
		return "", errors.Join(errs...)
	}
	if len(sections) == 0 {
		return noResults, nil
	}
	return strings.Join(sections, "\n\n---\n\n"), nil
}

const (
	noResults      = "No results found."
	maxPassageText = 700
)

func formatPassages(ns retrieval.Namespace, hits []domain.Passage) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s:%s] %s", ns, h.ID, truncate(h.Text, maxPassageText))
	}
	return b.String()
}

func (b Backends) pubmedTool(fallback ToolKind) Tool {
	return Tool{
		Kind:        ToolSearchPubMed,
		Description: "Search PubMed live for recent studies. Returns PMIDs, titles and abstracts.",
		Params:      &searchArgs{},
		Fallback:    fallback,
		Handler: func(ctx context.Context, args json.RawMessage, _ domain.UserProfile) (string, error) {
			q, err := decodeQuery(args)
			if err != nil {
				return "", err
			}
			if b.Searcher == nil {
				return "", ErrToolUnavailable
			}
			docs, err := b.Searcher.Search(ctx, q, b.LiveMax)
			if err != nil {
				return "", err
			}
			if len(docs) == 0 {
				return noResults, nil
			}
			var sb strings.Builder
			for i, d := range docs {
				if i > 0 {
					sb.WriteString("\n\n")
				}
				fmt.Fprintf(&sb, "PMID %s: %s\n%s", d.ID, d.Title, truncate(d.Abstract, maxPassageText))
			}
			return sb.String(), nil
		},
	}
}

func tdeeTool() Tool {
	return Tool{
		Kind:        ToolCalculateTDEE,
		Description: "Calculate BMR and daily calorie needs (TDEE). Omitted fields are taken from the user profile.",
		Params:      &tdeeArgs{},
		Handler: func(_ context.Context, args json.RawMessage, p domain.UserProfile) (string, error) {
			var a tdeeArgs
			if len(args) > 0 {
				if err := json.Unmarshal(args, &a); err != nil {
					return "", fmt.Errorf("%w: tool arguments: %v", ErrMalformedOutput, err)
				}
			}
			in := TDEEInput{Sex: a.Sex, ActivityLevel: a.ActivityLevel, Age: a.Age, WeightKg: a.WeightKg, HeightCm: a.HeightCm}
			in = in.withProfile(p)
			if missing := in.Missing(); len(missing) > 0 {
				return fmt.Sprintf("Cannot calculate TDEE yet: missing %s. Answer with general guidance and suggest the user share these.", strings.Join(missing, ", ")), nil
			}
			res, err := CalculateTDEE(in)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrMalformedOutput, err)
			}
			return res.String(), nil
		},
	}
}

// toolInput turns a text action input into JSON arguments. JSON objects pass through; anything
// else becomes the query of a search tool.
func toolInput(kind ToolKind, raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")
	if strings.HasPrefix(raw, "{") && json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	if kind == ToolCalculateTDEE {
		return json.RawMessage(`{}`)
	}
	raw = strings.Trim(raw, `"'`)
	data, _ := json.Marshal(searchArgs{Query: raw})
	return data
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
