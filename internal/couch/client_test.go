package couch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "http://localhost:5984", NormalizeURL("localhost:5984"))
	assert.Equal(t, "https://db.example.com", NormalizeURL("https://db.example.com"))
	assert.Equal(t, "http://db:5984", NormalizeURL(" http://db:5984 "))
}

func TestNew_DatabaseURL(t *testing.T) {
	c := New("localhost:5984/", "tasks_db")
	assert.Equal(t, "http://localhost:5984/tasks_db", c.DatabaseURL())
}

func TestEnsureDB(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"created", http.StatusCreated, false},
		{"already exists", http.StatusPreconditionFailed, false},
		{"unauthorized", http.StatusUnauthorized, true},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "/tasks_db", r.URL.Path)
				writeJSON(w, tt.status, map[string]string{"error": "x", "reason": "y"})
			})

			err := New(srv.URL, "tasks_db").EnsureDB(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.status, StatusCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnsureDB_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := New(addr, "tasks_db").EnsureDB(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, StatusCode(err))
}

func TestGet(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/db/present":
			writeJSON(w, http.StatusOK, map[string]any{"_id": "present", "_rev": "3-abc", "title": "x", "updatedAt": 10, "order": 1, "completed": false})
		case "/db/gone":
			if r.URL.Query().Get("open_revs") == "all" {
				writeJSON(w, http.StatusOK, []map[string]any{
					{"ok": map[string]any{"_id": "gone", "_rev": "4-old", "_deleted": true, "title": "x", "updatedAt": 40}},
					{"ok": map[string]any{"_id": "gone", "_rev": "5-new", "_deleted": true, "title": "x", "updatedAt": 70}},
					{"missing": "3-zzz"},
				})
				return
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "deleted"})
		case "/db/gone-unreadable":
			if r.URL.Query().Get("open_revs") == "all" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "deleted"})
		case "/db/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "missing"})
		}
	})
	c := New(srv.URL, "db")
	ctx := context.Background()

	doc, found, deleted, err := c.Get(ctx, "present")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, deleted)
	assert.Equal(t, "3-abc", doc.Rev)
	assert.Equal(t, int64(10), doc.UpdatedAt)

	_, found, deleted, err = c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, deleted)

	tomb, found, deleted, err := c.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, deleted)
	assert.True(t, tomb.Deleted)
	assert.Equal(t, "5-new", tomb.Rev, "latest leaf by updatedAt")
	assert.Equal(t, int64(70), tomb.UpdatedAt)

	_, _, deleted, err = c.Get(ctx, "gone-unreadable")
	require.Error(t, err)
	assert.True(t, deleted)

	_, _, _, err = c.Get(ctx, "broken")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

func TestPut_SendsDocumentAndReturnsRev(t *testing.T) {
	var got map[string]any
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/db/a", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": "a", "rev": "2-new"})
	})

	rev, err := New(srv.URL, "db").Put(context.Background(), Document{ID: "a", Rev: "1-old", Title: "x", UpdatedAt: 5})
	require.NoError(t, err)
	assert.Equal(t, "2-new", rev)
	assert.Equal(t, "1-old", got["_rev"])
	assert.Equal(t, "x", got["title"])
	assert.NotContains(t, got, "_deleted")
}

func TestPut_ConflictMatchesErrConflict(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "reason": "Document update conflict."})
	})

	_, err := New(srv.URL, "db").Put(context.Background(), Document{ID: "a"})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.ErrorIs(t, err, ErrConflict)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "conflict", se.ErrorName)
	assert.Contains(t, se.Error(), "Document update conflict.")
}

func TestChanges(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/db/_changes", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("include_docs"))
		assert.Equal(t, "5-abc", r.URL.Query().Get("since"))
		_, _ = io.WriteString(w, `{
			"results": [
				{"id":"a","seq":"6-x","changes":[{"rev":"2-a"}],"doc":{"_id":"a","_rev":"2-a","title":"A","completed":false,"updatedAt":10,"order":1}},
				{"id":"b","seq":"7-x","changes":[{"rev":"3-b"}],"deleted":true,"doc":{"_id":"b","_rev":"3-b","_deleted":true}}
			],
			"last_seq":"7-x"
		}`)
	})

	resp, err := New(srv.URL, "db").Changes(context.Background(), "5-abc")
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, Seq("7-x"), resp.LastSeq)
	assert.True(t, resp.Results[1].Deleted)
	assert.Equal(t, "2-a", resp.Results[0].Changes[0].Rev)
}

func TestChanges_EmptyResultsNotNil(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"last_seq":"0"}`)
	})

	resp, err := New(srv.URL, "db").Changes(context.Background(), "0")
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestChanges_ErrorStatus(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "Database does not exist."})
	})

	_, err := New(srv.URL, "db").Changes(context.Background(), "0")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestBasicAuth(t *testing.T) {
	var withAuth, withoutAuth atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok && user == "admin" && pass == "secret" {
			withAuth.Add(1)
		} else if !ok {
			withoutAuth.Add(1)
		}
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, New(srv.URL, "db", WithBasicAuth("admin", "secret")).EnsureDB(context.Background()))
	require.NoError(t, New(srv.URL, "db", WithBasicAuth("admin", "")).EnsureDB(context.Background()))

	assert.Equal(t, int32(1), withAuth.Load())
	assert.Equal(t, int32(1), withoutAuth.Load())
}
