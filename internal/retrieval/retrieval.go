package retrieval

import (
	"context"
	"fmt"
	"strings"

	"vita/internal/domain"
)

// Namespace partitions the passage index by corpus.
type Namespace string

const (
	NamespaceOpenFoodFacts Namespace = "openfoodfacts"
	NamespaceUSDA          Namespace = "usda"
	NamespacePubMed        Namespace = "pubmed"
	NamespaceWellness      Namespace = "wellness"
)

// DefaultTopK is the number of passages returned when a caller passes k <= 0.
const DefaultTopK = 3

// Namespaces lists every known namespace.
func Namespaces() []Namespace {
	return []Namespace{NamespaceOpenFoodFacts, NamespaceUSDA, NamespacePubMed, NamespaceWellness}
}

// ParseNamespace validates a namespace name.
func ParseNamespace(s string) (Namespace, error) {
	ns := Namespace(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Namespaces() {
		if ns == known {
			return ns, nil
		}
	}
	return "", fmt.Errorf("unknown namespace %q", s)
}

// Retriever returns the k best passages for query within one namespace, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, ns Namespace, k int) ([]domain.Passage, error)
}

// Entry is one passage to index.
type Entry struct {
	Namespace Namespace `json:"namespace"`
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"`
}
