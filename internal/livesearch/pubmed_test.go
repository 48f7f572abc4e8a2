package livesearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const efetchXML = `<?xml version="1.0" ?>
<!DOCTYPE PubmedArticleSet PUBLIC "-//NLM//DTD PubMedArticle, 1st January 2024//EN" "https://dtd.nlm.nih.gov/ncbi/pubmed/out/pubmed_240101.dtd">
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation Status="MEDLINE" Owner="NLM">
      <PMID Version="1">111</PMID>
      <Article>
        <ArticleTitle>Dietary protein at breakfast and <i>satiety</i> in adults.</ArticleTitle>
        <Abstract>
          <AbstractText Label="BACKGROUND">Protein intake at breakfast may influence appetite.</AbstractText>
          <AbstractText Label="RESULTS">Higher-protein breakfasts reduced hunger ratings by 10<sup>2</sup> units over the morning.</AbstractText>
        </Abstract>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>222</PMID>
      <Article>
        <ArticleTitle>Too short.</ArticleTitle>
        <Abstract><AbstractText>Tiny.</AbstractText></Abstract>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

func newFakeEutils(t *testing.T, esearchFailures int32) (*httptest.Server, *int32) {
	t.Helper()
	var esearchCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&esearchCalls, 1)
		if n <= esearchFailures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "pubmed", r.URL.Query().Get("db"))
		assert.Equal(t, "2", r.URL.Query().Get("retmax"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"esearchresult":{"count":"2","idlist":["111","222"]}}`))
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "111,222", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(efetchXML))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &esearchCalls
}

func TestSearchParsesArticles(t *testing.T) {
	srv, _ := newFakeEutils(t, 0)
	p := NewPubMed(Options{BaseURL: srv.URL, Log: zerolog.Nop()})
	docs, err := p.Search(context.Background(), "protein breakfast satiety", 2)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "111", docs[0].ID)
	assert.Equal(t, "Dietary protein at breakfast and satiety in adults.", docs[0].Title)
	assert.Equal(t, "BACKGROUND: Protein intake at breakfast may influence appetite. RESULTS: Higher-protein breakfasts reduced hunger ratings by 102 units over the morning.", docs[0].Abstract)
}

func TestSearchRetriesServerErrors(t *testing.T) {
	srv, calls := newFakeEutils(t, 1)
	p := NewPubMed(Options{BaseURL: srv.URL, MaxRetries: 2, Log: zerolog.Nop()})
	docs, err := p.Search(context.Background(), "protein", 2)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestSearchNetworkError(t *testing.T) {
	srv, calls := newFakeEutils(t, 100)
	p := NewPubMed(Options{BaseURL: srv.URL, MaxRetries: 1, Log: zerolog.Nop()})
	_, err := p.Search(context.Background(), "protein", 2)
	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "esearch", nerr.Op)
	assert.Equal(t, http.StatusServiceUnavailable, nerr.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestSearchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	p := NewPubMed(Options{BaseURL: url, Log: zerolog.Nop()})
	_, err := p.Search(context.Background(), "protein", 2)
	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr))
}

func TestSearchEmptyQuery(t *testing.T) {
	p := NewPubMed(Options{BaseURL: "http://127.0.0.1:1"})
	docs, err := p.Search(context.Background(), "  ", 2)
	require.NoError(t, err)
	assert.Nil(t, docs)
}
