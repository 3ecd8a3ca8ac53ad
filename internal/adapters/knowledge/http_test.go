package knowledge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avencia/graphrun/internal/adapters/knowledge"
)

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "faq", req["collection_id"])
		assert.Equal(t, "how do refunds work", req["query"])
		assert.Equal(t, float64(5), req["limit"])
		assert.Equal(t, 0.5, req["distance_threshold"])

		json.NewEncoder(w).Encode(map[string]any{
			"results": []string{"Refunds take 5 days.", "Contact billing."},
		})
	}))
	defer srv.Close()

	c := knowledge.NewClient(srv.URL)
	hits, err := c.Search(context.Background(), "faq", "how do refunds work", 5, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Refunds take 5 days.", "Contact billing."}, hits)
}

func TestClient_SearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := knowledge.NewClient(srv.URL)
	_, err := c.Search(context.Background(), "ghost", "q", 3, 0.2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
