package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/roach88/taskly/internal/couch"
)

// Request kinds counted by FakeCouch.
const (
	ReqEnsureDB = "ensure_db"
	ReqGetDoc   = "get_doc"
	ReqPutDoc   = "put_doc"
	ReqChanges  = "changes"
)

// FakeCouch is an in-memory CouchDB speaking the subset of the HTTP API used
// by replication: database creation, document GET/PUT with revision checks,
// tombstones (readable with open_revs=all), and the _changes feed with
// include_docs.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeCouch struct {
	mu       sync.Mutex
	server   *httptest.Server
	db       string
	exists   bool
	docs     map[string]*fakeDoc
	seq      int
	username string
	password string
	requests map[string]int
	failures map[string]int
}

type fakeDoc struct {
	doc couch.Document
	gen int
	seq int
}

// NewFakeCouch starts a fake server hosting database db. The server is closed
// when the test finishes.
func NewFakeCouch(t testing.TB, db string) *FakeCouch {
	t.Helper()
	f := &FakeCouch{
		db:       db,
		docs:     make(map[string]*fakeDoc),
		requests: make(map[string]int),
		failures: make(map[string]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the server base URL.
func (f *FakeCouch) URL() string {
	return f.server.URL
}

// RequireAuth makes every request without matching basic auth fail with 401.
func (f *FakeCouch) RequireAuth(username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.username = username
	f.password = password
}

// Fail makes every request of the given kind respond with status until
// cleared with Fail(kind, 0).
func (f *FakeCouch) Fail(kind string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.failures, kind)
		return
	}
	f.failures[kind] = status
}

// FailDoc makes PUTs of one document id respond with status.
func (f *FakeCouch) FailDoc(id string, status int) {
	f.Fail(ReqPutDoc+":"+id, status)
}

// Seed stores doc as if another replica wrote it, creating the database when
// needed. doc.Rev is ignored. Returns the new revision.
func (f *FakeCouch) Seed(doc couch.Document) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists = true
	return f.store(doc)
}

// Doc returns the stored document, including tombstones.
func (f *FakeCouch) Doc(id string) (couch.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return couch.Document{}, false
	}
	return d.doc, true
}

// LastSeq returns the current update sequence as reported by _changes.
func (f *FakeCouch) LastSeq() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return formatSeq(f.seq)
}

// Requests returns how many requests of kind were received.
func (f *FakeCouch) Requests(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[kind]
}

// TotalRequests returns the number of requests of any kind.
func (f *FakeCouch) TotalRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.requests {
		total += n
	}
	return total
}

// store must be called with f.mu held.
func (f *FakeCouch) store(doc couch.Document) string {
	existing := f.docs[doc.ID]
	gen := 1
	if existing != nil {
		gen = existing.gen + 1
	}
	f.seq++
	doc.Rev = fmt.Sprintf("%d-%032x", gen, f.seq)
	f.docs[doc.ID] = &fakeDoc{doc: doc, gen: gen, seq: f.seq}
	return doc.Rev
}

func (f *FakeCouch) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	db, rest, _ := strings.Cut(path, "/")

	kind := classify(r.Method, rest)
	f.requests[kind]++

	if f.username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != f.username || pass != f.password {
			writeCouchError(w, http.StatusUnauthorized, "unauthorized", "Name or password is incorrect.")
			return
		}
	}
	if status, ok := f.failures[kind]; ok {
		writeCouchError(w, status, "injected", "injected failure")
		return
	}
	if db != f.db {
		writeCouchError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	switch kind {
	case ReqEnsureDB:
		if f.exists {
			writeCouchError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
			return
		}
		f.exists = true
		writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
	case ReqChanges:
		f.changes(w, r)
	case ReqGetDoc:
		f.getDoc(w, r, rest)
	case ReqPutDoc:
		f.putDoc(w, r, rest)
	default:
		writeCouchError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET,PUT allowed")
	}
}

func classify(method, rest string) string {
	switch {
	case rest == "" && method == http.MethodPut:
		return ReqEnsureDB
	case rest == "_changes":
		return ReqChanges
	case method == http.MethodGet:
		return ReqGetDoc
	case method == http.MethodPut:
		return ReqPutDoc
	default:
		return method + " " + rest
	}
}

func (f *FakeCouch) getDoc(w http.ResponseWriter, r *http.Request, id string) {
	if !f.exists {
		writeCouchError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	d, ok := f.docs[id]
	if !ok {
		writeCouchError(w, http.StatusNotFound, "not_found", "missing")
		return
	}
	// The fake keeps a single leaf per document, so open_revs=all has one entry.
	if r.URL.Query().Get("open_revs") == "all" {
		writeJSON(w, http.StatusOK, []map[string]couch.Document{{"ok": d.doc}})
		return
	}
	if d.doc.Deleted {
		writeCouchError(w, http.StatusNotFound, "not_found", "deleted")
		return
	}
	writeJSON(w, http.StatusOK, d.doc)
}

func (f *FakeCouch) putDoc(w http.ResponseWriter, r *http.Request, id string) {
	if !f.exists {
		writeCouchError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	if status, ok := f.failures[ReqPutDoc+":"+id]; ok {
		writeCouchError(w, status, "injected", "injected failure")
		return
	}

	var doc couch.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeCouchError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	doc.ID = id

	existing, ok := f.docs[id]
	switch {
	case !ok && doc.Rev != "":
		writeCouchError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	case ok && existing.doc.Deleted && doc.Rev != "" && doc.Rev != existing.doc.Rev:
		writeCouchError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	case ok && !existing.doc.Deleted && doc.Rev != existing.doc.Rev:
		writeCouchError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}

	rev := f.store(doc)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "rev": rev})
}

func (f *FakeCouch) changes(w http.ResponseWriter, r *http.Request) {
	if !f.exists {
		writeCouchError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	since := parseSeq(r.URL.Query().Get("since"))
	includeDocs := r.URL.Query().Get("include_docs") == "true"

	var entries []*fakeDoc
	for _, d := range f.docs {
		if d.seq > since {
			entries = append(entries, d)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	results := make([]map[string]any, 0, len(entries))
	for _, d := range entries {
		entry := map[string]any{
			"id":      d.doc.ID,
			"seq":     formatSeq(d.seq),
			"changes": []map[string]string{{"rev": d.doc.Rev}},
		}
		if d.doc.Deleted {
			entry["deleted"] = true
		}
		if includeDocs {
			entry["doc"] = d.doc
		}
		results = append(results, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":  results,
		"last_seq": formatSeq(f.seq),
		"pending":  0,
	})
}

func formatSeq(n int) string {
	if n == 0 {
		return "0"
	}
	return strconv.Itoa(n) + "-fake"
}

func parseSeq(s string) int {
	prefix, _, _ := strings.Cut(s, "-")
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCouchError(w http.ResponseWriter, code int, name, reason string) {
	writeJSON(w, code, map[string]string{"error": name, "reason": reason})
}
