package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/microtan/shaolinq/query"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/sqlgen"
)

const testModel = `
entities:
  - name: Person
    properties:
      - {name: Id, type: int, primaryKey: true}
      - {name: Name, type: string}
`

func setupHandler(t *testing.T, withDB bool) http.Handler {
	t.Helper()
	m, err := model.Parse([]byte(testModel), "yaml")
	require.NoError(t, err)
	engine, err := query.New(m, query.WithDialect(sqlgen.SQLite, ""))
	require.NoError(t, err)
	if !withDB {
		return NewHandler(engine, nil).Router()
	}

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE "Person" ("Id" INTEGER PRIMARY KEY, "Name" TEXT NOT NULL);
INSERT INTO "Person" VALUES (1, 'ann'), (2, 'bob');`)
	require.NoError(t, err)
	return NewHandler(engine, db).Router()
}

func post(t *testing.T, h http.Handler, path, chain string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(ChainRequest{Chain: chain})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSQLEndpoint(t *testing.T) {
	h := setupHandler(t, false)

	rec := post(t, h, "/api/sql", "Person.Where(p => p.Id == 2).Select(p => p.Name)")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SQLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.SQL, "?")
	assert.Equal(t, []any{float64(2)}, resp.Args)
	assert.Contains(t, resp.Inline, "= 2")
	assert.Equal(t, "sqlite", resp.Dialect)
}

func TestQueryEndpoint(t *testing.T) {
	h := setupHandler(t, true)

	rec := post(t, h, "/api/query", "Person.OrderBy(p => p.Id).Select(p => p.Name)")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"result": ["ann", "bob"]}`, rec.Body.String())

	rec = post(t, h, "/api/query", "Person.Count()")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result": 2}`, rec.Body.String())
}

func TestErrors(t *testing.T) {
	h := setupHandler(t, false)

	rec := post(t, h, "/api/sql", "Person.Where(")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, "/api/sql", "Person.Where(p => p.Shoe == 1)")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bind", resp.Stage)

	rec = post(t, h, "/api/query", "Person")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsAndHealth(t *testing.T) {
	h := setupHandler(t, false)
	post(t, h, "/api/sql", "Person")

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"shapes"`)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
