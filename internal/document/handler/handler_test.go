package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/revdoc/internal/document/service"
	"github.com/stretchr/testify/require"
)

const jsonContentType = "application/json; charset=utf-8"

type fixture struct {
	t *testing.T
	g *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	RegisterRoutes(g, service.NewMemoryService())
	return &fixture{t: t, g: g}
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.g.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

// requireError checks an error response and returns its body.
func requireError(t *testing.T, w *httptest.ResponseRecorder, code, num int) map[string]any {
	t.Helper()
	require.Equal(t, code, w.Code, w.Body.String())
	require.Equal(t, jsonContentType, w.Header().Get("Content-Type"))
	m := decode(t, w)
	require.Equal(t, true, m["error"])
	require.EqualValues(t, code, m["code"])
	require.EqualValues(t, num, m["errorNum"])
	require.NotEmpty(t, m["errorMessage"])
	return m
}

func (f *fixture) collection(name string) string {
	w := f.do(http.MethodPost, CollectionPath, `{"name":"`+name+`"}`)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	return decode(f.t, w)["id"].(string)
}

func (f *fixture) create(collection, body string) (id, rev string) {
	w := f.do(http.MethodPost, DocumentPath+"?collection="+collection, body)
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	m := decode(f.t, w)
	return m["_id"].(string), m["_rev"].(string)
}

func TestDeleteErrors(t *testing.T) {
	f := newFixture(t)
	cid := f.collection("UnitTestsCollectionBasics")

	requireError(t, f.do(http.MethodDelete, DocumentPath, ""), 400, 400)
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/", ""), 400, 400)
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/123456", ""), 400, 400)
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/a/b/c", ""), 400, 400)
	requireError(t, f.do(http.MethodDelete, DocumentPath+"//123456", ""), 400, 1203)
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/"+cid+"/", ""), 400, 1203)
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/123456/234567", ""), 404, 1203)
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/"+cid+"/234567", ""), 404, 1202)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	cid := f.collection("UnitTestsCollectionBasics")
	id, rev := f.create(cid, `{"Hallo":"World"}`)

	w := f.do(http.MethodDelete, DocumentPath+"/"+id, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, jsonContentType, w.Header().Get("Content-Type"))
	m := decode(t, w)
	require.Equal(t, false, m["error"])
	require.Equal(t, id, m["_id"])
	require.Equal(t, rev, m["_rev"])
	require.Empty(t, w.Header().Get("Location"))

	requireError(t, f.do(http.MethodGet, DocumentPath+"/"+id, ""), 404, 1202)
}

func TestDeleteWithRevision(t *testing.T) {
	f := newFixture(t)
	cid := f.collection("UnitTestsCollectionBasics")
	id, rev := f.create(cid, `{"Hallo":"World"}`)

	wrong := "garbage" + rev
	// stale revision via query parameter
	m := requireError(t, f.do(http.MethodDelete, DocumentPath+"/"+id+"?rev="+wrong, ""), 412, 1200)
	require.Equal(t, id, m["_id"])
	require.Equal(t, rev, m["_rev"])

	// stale revision via If-Match, also with explicit error policy
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/"+id, "", "If-Match", `"`+wrong+`"`), 412, 1200)
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/"+id+"?policy=error", "", "If-Match", `"`+wrong+`"`), 412, 1200)

	// header wins over the query parameter
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/"+id+"?rev="+rev, "", "If-Match", `"`+wrong+`"`), 412, 1200)

	// bad policy is rejected before the revision is compared
	requireError(t, f.do(http.MethodDelete, DocumentPath+"/"+id+"?policy=sometimes&rev="+wrong, ""), 400, 400)

	w := f.do(http.MethodDelete, DocumentPath+"/"+id, "", "If-Match", `  "`+rev+`" `)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, rev, decode(t, w)["_rev"])
}

func TestDeleteLastWriteWins(t *testing.T) {
	f := newFixture(t)
	cid := f.collection("UnitTestsCollectionBasics")
	id, rev := f.create(cid, `{"Hallo":"World"}`)

	w := f.do(http.MethodDelete, DocumentPath+"/"+id+"?policy=last&rev=garbage"+rev, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m := decode(t, w)
	require.Equal(t, id, m["_id"])
	require.Equal(t, rev, m["_rev"])
}

func TestCreateDocument(t *testing.T) {
	f := newFixture(t)
	cid := f.collection("books")

	w := f.do(http.MethodPost, DocumentPath+"?collection="+cid, `{"_key":"dune","title":"Dune"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, jsonContentType, w.Header().Get("Content-Type"))
	m := decode(t, w)
	require.Equal(t, false, m["error"])
	require.Equal(t, "books/dune", m["_id"])
	require.Equal(t, "dune", m["_key"])
	rev := m["_rev"].(string)
	require.Equal(t, `"`+rev+`"`, w.Header().Get("ETag"))
	require.Equal(t, DocumentPath+"/books/dune", w.Header().Get("Location"))

	// waitForSync does not change the status
	w = f.do(http.MethodPost, DocumentPath+"?collection=books&waitForSync=true", `{}`)
	require.Equal(t, http.StatusCreated, w.Code)

	requireError(t, f.do(http.MethodPost, DocumentPath, `{}`), 400, 1203)
	requireError(t, f.do(http.MethodPost, DocumentPath+"?collection=films", `{}`), 404, 1203)
	requireError(t, f.do(http.MethodPost, DocumentPath+"?collection=books", `{"_key":"dune"}`), 409, 1210)
	requireError(t, f.do(http.MethodPost, DocumentPath+"?collection=books", `{"_key":"a b"}`), 400, 1221)
	requireError(t, f.do(http.MethodPost, DocumentPath+"?collection=books", `{"broken"`), 400, 600)
	requireError(t, f.do(http.MethodPost, DocumentPath+"?collection=books", `[1,2]`), 400, 600)
}

func TestReadDocument(t *testing.T) {
	f := newFixture(t)
	f.collection("books")
	id, rev := f.create("books", `{"_key":"dune","title":"Dune"}`)

	w := f.do(http.MethodGet, DocumentPath+"/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `"`+rev+`"`, w.Header().Get("ETag"))
	m := decode(t, w)
	require.Equal(t, "Dune", m["title"])
	require.Equal(t, id, m["_id"])
	require.Equal(t, rev, m["_rev"])
	require.Equal(t, "dune", m["_key"])

	w = f.do(http.MethodHead, DocumentPath+"/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.String())

	w = f.do(http.MethodGet, DocumentPath+"/"+id, "", "If-None-Match", `"`+rev+`"`)
	require.Equal(t, http.StatusNotModified, w.Code)

	w = f.do(http.MethodGet, DocumentPath+"/"+id, "", "If-None-Match", `"other"`)
	require.Equal(t, http.StatusOK, w.Code)

	m = requireError(t, f.do(http.MethodGet, DocumentPath+"/"+id, "", "If-Match", `"other"`), 412, 1200)
	require.Equal(t, rev, m["_rev"])

	w = f.do(http.MethodGet, DocumentPath+"/"+id+"?rev=other&policy=last", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodHead, DocumentPath+"/books/emma", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Empty(t, w.Body.String())

	requireError(t, f.do(http.MethodGet, DocumentPath+"/books/emma", ""), 404, 1202)
}

func TestUpdateDocument(t *testing.T) {
	f := newFixture(t)
	f.collection("books")
	id, rev := f.create("books", `{"_key":"dune","title":"Dune"}`)

	w := f.do(http.MethodPut, DocumentPath+"/"+id, `{"title":"Dune Messiah"}`, "If-Match", `"`+rev+`"`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Empty(t, w.Header().Get("Location"))
	m := decode(t, w)
	require.Equal(t, id, m["_id"])
	rev2 := m["_rev"].(string)
	require.NotEqual(t, rev, rev2)

	m = requireError(t, f.do(http.MethodPut, DocumentPath+"/"+id+"?rev="+rev, `{"title":"x"}`), 412, 1200)
	require.Equal(t, rev2, m["_rev"])
	require.Equal(t, "dune", m["_key"])

	w = f.do(http.MethodPut, DocumentPath+"/"+id+"?rev="+rev+"&policy=last-write", `{"title":"y"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, DocumentPath+"/"+id, "")
	require.Equal(t, "y", decode(t, w)["title"])

	requireError(t, f.do(http.MethodPut, DocumentPath, `{}`), 400, 400)
	requireError(t, f.do(http.MethodPut, DocumentPath+"/dune", `{}`), 400, 400)
	requireError(t, f.do(http.MethodPut, DocumentPath+"/books/emma", `{}`), 404, 1202)
	requireError(t, f.do(http.MethodPut, DocumentPath+"/"+id, `"text"`), 400, 600)
	requireError(t, f.do(http.MethodPut, DocumentPath+"/"+id+"?policy=bogus", `"text"`), 400, 400)
}

func TestListDocuments(t *testing.T) {
	f := newFixture(t)
	f.collection("books")
	f.create("books", `{"_key":"b"}`)
	f.create("books", `{"_key":"a"}`)

	w := f.do(http.MethodGet, DocumentPath+"?collection=books", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Documents []string `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, []string{DocumentPath + "/books/a", DocumentPath + "/books/b"}, out.Documents)

	requireError(t, f.do(http.MethodGet, DocumentPath, ""), 400, 1203)
}

func TestCollectionRoutes(t *testing.T) {
	f := newFixture(t)
	id := f.collection("books")

	requireError(t, f.do(http.MethodPost, CollectionPath, `{"name":"books"}`), 409, 1207)
	requireError(t, f.do(http.MethodPost, CollectionPath, `{"name":"_books"}`), 400, 1208)
	requireError(t, f.do(http.MethodPost, CollectionPath, `{"name":`), 400, 600)

	f.create("books", `{}`)
	w := f.do(http.MethodGet, CollectionPath+"/books/count", "")
	require.Equal(t, http.StatusOK, w.Code)
	m := decode(t, w)
	require.EqualValues(t, 1, m["count"])
	require.Equal(t, id, m["id"])

	w = f.do(http.MethodGet, CollectionPath, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode(t, w)["collections"], 1)

	w = f.do(http.MethodGet, CollectionPath+"/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "books", decode(t, w)["name"])

	w = f.do(http.MethodDelete, CollectionPath+"/books", "")
	require.Equal(t, http.StatusOK, w.Code)
	requireError(t, f.do(http.MethodGet, CollectionPath+"/books", ""), 404, 1203)
	requireError(t, f.do(http.MethodDelete, CollectionPath+"/books", ""), 404, 1203)
}
