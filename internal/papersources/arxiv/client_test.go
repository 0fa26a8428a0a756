package arxiv

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/papersources"
)

// Sample Atom responses for testing.
const feedResponseXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <title type="html">ArXiv Query: search_query=all:diabetes AND all:treatment</title>
  <opensearch:totalResults>57</opensearch:totalResults>
  <opensearch:startIndex>0</opensearch:startIndex>
  <opensearch:itemsPerPage>2</opensearch:itemsPerPage>
  <entry>
    <id>http://arxiv.org/abs/2301.12345v2</id>
    <updated>2023-02-01T10:00:00Z</updated>
    <published>2023-01-15T18:30:00Z</published>
    <title>Machine Learning for
      Diabetes Treatment Selection</title>
    <summary>  We propose a model that recommends diabetes treatment
      plans from electronic health records.  </summary>
    <author><name>Alice Zhang</name></author>
    <author><name>Bob Kumar</name></author>
    <author><name>Carol Lee</name></author>
    <author><name>Dan Ortiz</name></author>
    <arxiv:doi>10.48550/arXiv.2301.12345</arxiv:doi>
    <link href="http://arxiv.org/abs/2301.12345v2" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2301.12345v2" rel="related" type="application/pdf"/>
    <arxiv:primary_category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
    <category term="q-bio.QM" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/hep-th/9901001v1</id>
    <published>1999-01-04T00:00:00Z</published>
    <title>Old Style Identifier</title>
    <summary>Short abstract.</summary>
    <author><name>Eve Novak</name></author>
    <arxiv:journal_ref>Phys. Rev. D 59 (1999)</arxiv:journal_ref>
    <category term="hep-th" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
</feed>`

const feedEmptyXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/">
  <opensearch:totalResults>0</opensearch:totalResults>
</feed>`

const feedBadEntryXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/api/errors#incorrect_id_format</id>
    <title>Error</title>
  </entry>
</feed>`

func TestNew(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		client := New(Config{Enabled: true})

		require.NotNil(t, client)
		assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
		assert.Equal(t, DefaultTimeout, client.config.Timeout)
		assert.Equal(t, DefaultMaxResults, client.config.MaxResults)
		assert.True(t, client.IsEnabled())
	})

	t.Run("metadata", func(t *testing.T) {
		client := New(Config{})
		assert.Equal(t, domain.SourcePreprint, client.SourceType())
		assert.Equal(t, "arXiv", client.Name())
		assert.False(t, client.IsEnabled())
	})
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single term", "diabetes", "all:diabetes"},
		{"two terms", "diabetes treatment", "all:diabetes AND all:treatment"},
		{"strips punctuation", `type-2 "diabetes"!`, "all:type AND all:2 AND all:diabetes"},
		{"keeps unicode letters", "café naïve", "all:café AND all:naïve"},
		{"only punctuation", "?!()", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildSearchQuery(tt.input))
		})
	}
}

func TestClient_Search(t *testing.T) {
	t.Run("parses feed into records", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/query", r.URL.Path)
			w.Header().Set("Content-Type", "application/atom+xml")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(feedResponseXML))
		}))
		defer server.Close()

		client := createTestClient(server.URL)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "diabetes treatment", MaxResults: 5})
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, 57, result.TotalResults)
		assert.Equal(t, domain.SourcePreprint, result.Source)
		require.Len(t, result.Records, 2)

		rec := result.Records[0]
		assert.Equal(t, domain.NewRecordID(domain.SourcePreprint, "2301.12345"), rec.ID)
		assert.Equal(t, "Machine Learning for Diabetes Treatment Selection", rec.Title)
		assert.Equal(t, "We propose a model that recommends diabetes treatment plans from electronic health records.", rec.Abstract)
		assert.Equal(t, rec.Abstract, rec.Snippet)
		assert.Equal(t, "Alice Zhang, Bob Kumar, Carol Lee et al.", rec.Authors)
		assert.Equal(t, "2023", rec.Year)
		assert.Equal(t, domain.SourcePreprint, rec.Source)
		assert.Equal(t, "http://arxiv.org/abs/2301.12345v2", rec.URL)
		assert.Equal(t, "arXiv", rec.JournalOrVenue)
		assert.Equal(t, "10.48550/arXiv.2301.12345", rec.DOI)
		assert.Equal(t, []string{"cs.LG", "q-bio.QM"}, rec.Categories)

		old := result.Records[1]
		assert.Equal(t, domain.NewRecordID(domain.SourcePreprint, "hep-th/9901001"), old.ID)
		assert.Equal(t, "1999", old.Year)
		assert.Equal(t, "Eve Novak", old.Authors)
		assert.Equal(t, "Phys. Rev. D 59 (1999)", old.JournalOrVenue)
		assert.Equal(t, "https://arxiv.org/abs/hep-th/9901001", old.URL)
	})

	t.Run("sends relevance sorted query", func(t *testing.T) {
		var received atomic.Value
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Store(r.URL.Query().Encode())
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(feedEmptyXML))
		}))
		defer server.Close()

		client := createTestClient(server.URL)

		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "gene, therapy", MaxResults: 7})
		require.NoError(t, err)

		query := received.Load().(string)
		assert.Contains(t, query, "search_query=all%3Agene+AND+all%3Atherapy")
		assert.Contains(t, query, "max_results=7")
		assert.Contains(t, query, "sortBy=relevance")
		assert.Contains(t, query, "sortOrder=descending")
	})

	t.Run("uses configured max results", func(t *testing.T) {
		var maxResults atomic.Value
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			maxResults.Store(r.URL.Query().Get("max_results"))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(feedEmptyXML))
		}))
		defer server.Close()

		client := NewWithHTTPClient(Config{BaseURL: server.URL, MaxResults: 11, Enabled: true},
			papersources.NewHTTPClient(papersources.HTTPClientConfig{MaxRetries: -1}))

		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "asthma"})
		require.NoError(t, err)
		assert.Equal(t, "11", maxResults.Load())
	})

	t.Run("truncates snippet", func(t *testing.T) {
		long := strings.Repeat("é", 250)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"><entry>
				<id>http://arxiv.org/abs/2401.00001v1</id>
				<title>Long</title>
				<summary>` + long + `</summary>
			</entry></feed>`))
		}))
		defer server.Close()

		client := createTestClient(server.URL)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "long"})
		require.NoError(t, err)
		require.Len(t, result.Records, 1)
		assert.Equal(t, SnippetLength, len([]rune(result.Records[0].Snippet)))
		assert.Equal(t, long, result.Records[0].Abstract)
		assert.Empty(t, result.Records[0].Year)
	})

	t.Run("skips entries without an arXiv id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(feedBadEntryXML))
		}))
		defer server.Close()

		client := createTestClient(server.URL)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "x"})
		require.NoError(t, err)
		assert.Empty(t, result.Records)
	})

	t.Run("empty feed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(feedEmptyXML))
		}))
		defer server.Close()

		client := createTestClient(server.URL)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "nothing"})
		require.NoError(t, err)
		assert.Empty(t, result.Records)
		assert.Equal(t, 0, result.TotalResults)
	})

	t.Run("query without terms makes no request", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		client := createTestClient(server.URL)

		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "?!"})
		require.NoError(t, err)
		assert.Empty(t, result.Records)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("disabled", func(t *testing.T) {
		client := NewWithHTTPClient(Config{}, papersources.NewHTTPClient(papersources.HTTPClientConfig{MaxRetries: -1}))

		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "x"})
		assert.ErrorIs(t, err, domain.ErrSourceDisabled)
	})

	t.Run("non-200 status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("malformed query"))
		}))
		defer server.Close()

		client := createTestClient(server.URL)

		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "x"})
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Contains(t, apiErr.Message, "malformed query")
	})

	t.Run("malformed XML", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("<feed><entry>"))
		}))
		defer server.Close()

		client := createTestClient(server.URL)

		_, err := client.Search(context.Background(), papersources.SearchParams{Query: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding response")
	})

	t.Run("context deadline", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer server.Close()

		client := createTestClient(server.URL)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := client.Search(ctx, papersources.SearchParams{Query: "slow"})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestExtractArXivID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://arxiv.org/abs/2301.12345v1", "2301.12345"},
		{"http://arxiv.org/abs/2301.12345", "2301.12345"},
		{"http://arxiv.org/abs/hep-th/9901001v3", "hep-th/9901001"},
		{"https://example.com/paper", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractArXivID(tt.input))
		})
	}
}

func createTestClient(baseURL string) *Client {
	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		MaxRetries: -1, // No retries in tests
	})

	return NewWithHTTPClient(Config{
		BaseURL: baseURL,
		Enabled: true,
	}, httpClient)
}
