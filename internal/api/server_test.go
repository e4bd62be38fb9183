package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/taxo/internal/classify"
	"github.com/pbaille/taxo/internal/exchange"
	"github.com/pbaille/taxo/internal/store"
	"github.com/pbaille/taxo/internal/taxonomy"
	"github.com/pbaille/taxo/internal/workspace"
)

type client struct {
	t   *testing.T
	url string
}

func (c client) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var r *bytes.Reader
	if s, ok := body.(string); ok {
		r = bytes.NewReader([]byte(s))
	} else {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.url+path, r)
	require.NoError(c.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func setup(t *testing.T) (client, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "taxo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ws := workspace.New("ws", taxonomy.Config{Author: "ann"})
	srv := httptest.NewServer(New(ws, st, "", nil).Handler())
	t.Cleanup(srv.Close)
	return client{t: t, url: srv.URL}, st
}

func taxa(t *testing.T, c client, subject string) []any {
	t.Helper()
	status, body := c.do("GET", "/subjects/"+url.PathEscape(subject), nil)
	require.Equal(t, http.StatusOK, status)
	return body["taxa"].([]any)
}

func TestTaxonomyLifecycle(t *testing.T) {
	c, st := setup(t)

	status, body := c.do("POST", "/taxa", CreateTaxonRequest{Name: "Animal", Subjects: []string{"s1", "s2"}})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Animal", body["name"])

	status, _ = c.do("POST", "/taxa", CreateTaxonRequest{Name: "Dog", Subjects: []string{"s1"}, Parent: "Animal"})
	require.Equal(t, http.StatusCreated, status)
	assert.ElementsMatch(t, []any{"Animal", "Dog"}, taxa(t, c, "s1"))

	status, _ = c.do("POST", "/taxa", CreateTaxonRequest{Name: "Cat", Parent: "Ghost"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = c.do("POST", "/taxa/Animal/move", MoveTaxonRequest{Target: "Dog", Position: "inner"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = c.do("POST", "/taxa/Dog/move", MoveTaxonRequest{Target: "Animal", Position: "sideways"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = c.do("POST", "/taxa/Ghost/flatten", nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Leaving Dog also leaves Animal: no sibling of Dog holds s1.
	status, _ = c.do("DELETE", "/assignments/s1/Dog", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, taxa(t, c, "s1"))

	status, _ = c.do("DELETE", "/assignments/s1/Dog", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = c.do("POST", "/assignments", AssignRequest{Subject: "s3", Taxon: "Dog"})
	require.Equal(t, http.StatusOK, status)

	status, body = c.do("POST", "/taxa/Animal/rename", map[string]string{"name": "Beast"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Beast", body["name"])
	assert.ElementsMatch(t, []any{"Beast", "Dog"}, taxa(t, c, "s3"))

	status, _ = c.do("PUT", "/labels/s2", map[string]string{"value": classify.Unsure})
	require.Equal(t, http.StatusOK, status)
	status, _ = c.do("PUT", "/labels/s2", map[string]string{"value": "Maybe"})
	assert.Equal(t, http.StatusBadRequest, status)

	// Every accepted mutation was saved.
	ws, err := workspace.Open(st, "ws", taxonomy.Config{})
	require.NoError(t, err)
	assert.True(t, ws.Engine.Has("s3", "Beast"))
	assert.True(t, ws.Engine.Has("s2", "Beast"))
	assert.Equal(t, classify.Unsure, ws.Labels.Value("s2"))

	status, _ = c.do("DELETE", "/taxa/Dog", nil)
	require.Equal(t, http.StatusOK, status)
	status, body = c.do("GET", "/taxonomy/forest", nil)
	require.Equal(t, http.StatusOK, status)
	forest := body["forest"].([]any)
	require.Len(t, forest, 1)
	assert.Equal(t, "Beast", forest[0].(map[string]any)["name"])
}

func TestCreateEmptyAndDivide(t *testing.T) {
	c, _ := setup(t)

	status, body := c.do("POST", "/taxa/empty", map[string]string{})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "new category", body["name"])

	status, _ = c.do("POST", "/taxa/divide", map[string]string{})
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = c.do("POST", "/taxa", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProgressExportImport(t *testing.T) {
	c, _ := setup(t)
	c.do("POST", "/taxa", CreateTaxonRequest{Name: "Animal", Subjects: []string{"s1"}})

	resp, err := http.Get(c.url + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	progresses, err := exchange.Decode(resp.Body)
	require.NoError(t, err)
	require.Len(t, progresses, 2)
	tax, ok := exchange.Find[*exchange.Taxonomization](progresses)
	require.True(t, ok)
	assert.Len(t, tax.Annotations, 1)

	tax.Annotations = nil
	var buf bytes.Buffer
	require.NoError(t, exchange.Encode(&buf, progresses))
	status, _ := c.do("PUT", "/progress", buf.String())
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, taxa(t, c, "s1"))

	status, _ = c.do("PUT", "/progress", `[{"taskName": "Drawing"}]`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCORSAndHealth(t *testing.T) {
	c, _ := setup(t)

	req, err := http.NewRequest("OPTIONS", c.url+"/taxa", strings.NewReader(""))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	status, body := c.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}
