package caption

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"the type of the visualization is a bar chart", "bar chart"},
		{"this is a scatter plot of the population of many countries", "scatter plot of the"},
		{"it's a map", "map"},
		{"it is", "unknown"},
		{"   ", "unknown"},
		{"line chart", "line chart"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.raw))
		})
	}
}

func TestCut(t *testing.T) {
	assert.Equal(t, "a very long caption that goes", Cut("a very long caption that goes beyond thirty chars", 30))
	assert.Equal(t, "short", Cut("short", 30))
	assert.Equal(t, "", Cut(strings.Repeat("x", 40), 30))
	// Limits count characters, not bytes.
	assert.Equal(t, "carte des éléments régionaux", Cut("carte des éléments régionaux détaillés", 30))
}

func TestFileCaptioner(t *testing.T) {
	fc, err := ReadFile(strings.NewReader(`{"filename": "s1.png", "caption": "it is a map"}
{"filename": "s3.jpg", "caption": "the type of the visualization is a pie chart"}
`))
	require.NoError(t, err)

	got, err := fc.Captions(context.Background(), []string{"s1", "s2", "", "s3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"map", "", "", "pie chart"}, got)

	_, err = ReadFile(strings.NewReader("nope\n"))
	assert.Error(t, err)
}

func TestPageCaptioner(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "gone" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html><head><title>bar chart of " + r.PathValue("id") + "</title></head></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewPageCaptioner(srv.URL+"/items", nil)
	assert.Error(t, err)

	pc, err := NewPageCaptioner(srv.URL+"/items/"+Placeholder, nil)
	require.NoError(t, err)

	got, err := pc.Captions(context.Background(), []string{"s1", "", "gone"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bar chart of s1", "", ""}, got)
}

type staticCaptioner []string

func (s staticCaptioner) Captions(ctx context.Context, subjects []string) ([]string, error) {
	return s, nil
}

func TestRefiner(t *testing.T) {
	reply := "```json\n[\"Bars\", \"Maps\"]\n```"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Messages[0].Content, "- bar chart\n- map\n")
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": reply}},
		})
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "key")
	r, err := NewRefiner(staticCaptioner{"bar chart", "", "map"}, nil)
	require.NoError(t, err)
	r.endpoint = srv.URL

	got, err := r.Captions(context.Background(), []string{"a", "", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bars", "", "Maps"}, got)

	// A response with the wrong number of names leaves captions as they were.
	reply = `["Only"]`
	got, err = r.Captions(context.Background(), []string{"a", "", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bar chart", "", "map"}, got)
}

func TestNewRefiner_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewRefiner(staticCaptioner{}, nil)
	assert.Error(t, err)
}
