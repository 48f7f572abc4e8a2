package livesearch

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"vita/internal/domain"
)

const (
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	userAgent      = "vita/1.0"
	minAbstractLen = 50
)

// Searcher finds documents for a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Document, error)
}

// NetworkError reports a failed call to the search backend.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("livesearch %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("livesearch %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	Log        zerolog.Logger
}

// PubMed searches PubMed through the NCBI E-utilities: esearch for ids, then efetch for
// titles and abstracts.
type PubMed struct {
	base       string
	client     *http.Client
	maxRetries int
	log        zerolog.Logger
}

func NewPubMed(opts Options) *PubMed {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &PubMed{base: base, client: client, maxRetries: opts.MaxRetries, log: opts.Log}
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	PMID     string `xml:"MedlineCitation>PMID"`
	Title    inner  `xml:"MedlineCitation>Article>ArticleTitle"`
	Abstract []struct {
		Label string `xml:"Label,attr"`
		Body  string `xml:",innerxml"`
	} `xml:"MedlineCitation>Article>Abstract>AbstractText"`
}

type inner struct {
	XML string `xml:",innerxml"`
}

// Search returns up to limit documents whose abstract is long enough to be useful.
func (p *PubMed) Search(ctx context.Context, query string, limit int) ([]domain.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}
	ids, err := p.searchIDs(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return p.fetch(ctx, ids)
}

func (p *PubMed) searchIDs(ctx context.Context, query string, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmax", fmt.Sprint(limit))
	q.Set("sort", "relevance")
	q.Set("retmode", "json")
	body, err := p.get(ctx, "esearch", p.base+"/esearch.fcgi?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var res esearchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &NetworkError{Op: "esearch", Err: fmt.Errorf("decode: %w", err)}
	}
	return res.Result.IDList, nil
}

func (p *PubMed) fetch(ctx context.Context, ids []string) ([]domain.Document, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "xml")
	body, err := p.get(ctx, "efetch", p.base+"/efetch.fcgi?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, &NetworkError{Op: "efetch", Err: fmt.Errorf("decode: %w", err)}
	}
	var docs []domain.Document
	for _, a := range set.Articles {
		title := plainText(a.Title.XML)
		var parts []string
		for _, at := range a.Abstract {
			text := plainText(at.Body)
			if text == "" {
				continue
			}
			if at.Label != "" {
				text = at.Label + ": " + text
			}
			parts = append(parts, text)
		}
		abstract := strings.Join(parts, " ")
		if title == "" || len(abstract) < minAbstractLen {
			continue
		}
		docs = append(docs, domain.Document{ID: strings.TrimSpace(a.PMID), Title: title, Abstract: abstract})
	}
	return docs, nil
}

func (p *PubMed) get(ctx context.Context, op, u string) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(&NetworkError{Op: op, Err: err})
		}
		req.Header.Set("User-Agent", userAgent)
		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(&NetworkError{Op: op, Err: err})
			}
			return &NetworkError{Op: op, Err: err}
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &NetworkError{Op: op, Err: err}
		}
		if resp.StatusCode >= 300 {
			nerr := &NetworkError{Op: op, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nerr
			}
			return backoff.Permanent(nerr)
		}
		body = data
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.maxRetries, 0))), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		p.log.Debug().Err(err).Dur("wait", wait).Str("op", op).Msg("retrying live search")
	})
	if err != nil {
		var nerr *NetworkError
		if errors.As(err, &nerr) {
			return nil, nerr
		}
		return nil, &NetworkError{Op: op, Err: err}
	}
	return body, nil
}

// plainText strips inline markup (<i>, <sup>, ...) that PubMed keeps inside titles and abstracts.
func plainText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
