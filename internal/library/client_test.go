package library

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: baseURL, Token: "secret", PageSize: 2}, nil)
	require.NoError(t, err)
	return c
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"unauthorized", http.StatusUnauthorized, true},
		{"forbidden", http.StatusForbidden, true},
		{"server error tolerated", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := newTestClient(t, srv.URL).Ping(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestListExistingRecipeURLsPages(t *testing.T) {
	pages := map[string][][2]string{
		"1": {{"https://blog.test/pho", ""}, {"", "https://blog.test/laksa"}},
		"2": {{"https://blog.test/ramen", ""}, {"", ""}},
		"3": {},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		assert.Equal(t, "2", r.URL.Query().Get("perPage"))

		items := make([]map[string]string, 0)
		for _, pair := range pages[page] {
			items = append(items, map[string]string{"orgURL": pair[0], "originalURL": pair[1]})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	defer srv.Close()

	existing, err := newTestClient(t, srv.URL).ListExistingRecipeURLs(context.Background())
	require.NoError(t, err)

	assert.Len(t, existing, 3)
	assert.Contains(t, existing, "https://blog.test/pho")
	assert.Contains(t, existing, "https://blog.test/laksa", "originalURL is the fallback source field")
	assert.Contains(t, existing, "https://blog.test/ramen")
}

func TestImportFromURLAutodetectsEndpoint(t *testing.T) {
	var legacyCalls, modernCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/recipes/create/url":
			modernCalls++
			w.WriteHeader(http.StatusNotFound)
		case "/api/recipes/create-url":
			legacyCalls++
			var payload map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "https://blog.test/pho", payload["url"])
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `"pho-slug"`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	id, err := c.ImportFromURL(context.Background(), "https://blog.test/pho")
	require.NoError(t, err)
	assert.Equal(t, "pho-slug", id)
	assert.Equal(t, 1, modernCalls)
	assert.Equal(t, 1, legacyCalls)

	// The working endpoint is cached; the dead one is not retried.
	_, err = c.ImportFromURL(context.Background(), "https://blog.test/pho")
	require.NoError(t, err)
	assert.Equal(t, 1, modernCalls)
	assert.Equal(t, 2, legacyCalls)
}

func TestImportFromURLObjectResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"slug": "laksa", "id": "42"})
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv.URL).ImportFromURL(context.Background(), "https://blog.test/laksa")
	require.NoError(t, err)
	assert.Equal(t, "laksa", id)
}

func TestImportFromURLDuplicateIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv.URL).ImportFromURL(context.Background(), "https://blog.test/pho")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestImportFromURLFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).ImportFromURL(context.Background(), "https://blog.test/pho")
	require.Error(t, err)

	var ie *ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, http.StatusBadGateway, ie.Status)
}

func TestImportFromURLAllEndpointsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).ImportFromURL(context.Background(), "https://blog.test/pho")
	require.Error(t, err)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{}, nil)
	require.Error(t, err)
}
