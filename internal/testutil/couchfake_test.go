package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/taskly/internal/couch"
)

func TestFakeCouch_DocumentLifecycle(t *testing.T) {
	fake := NewFakeCouch(t, "tasks_db")
	client := couch.New(fake.URL(), "tasks_db")
	ctx := context.Background()

	assert.Equal(t, "0", fake.LastSeq())
	require.NoError(t, client.EnsureDB(ctx))
	require.NoError(t, client.EnsureDB(ctx), "existing database is not an error")

	rev, err := client.Put(ctx, couch.Document{ID: "a", Title: "first", UpdatedAt: 1})
	require.NoError(t, err)
	assert.Regexp(t, `^1-[0-9a-f]{32}$`, rev)

	_, err = client.Put(ctx, couch.Document{ID: "a", Title: "stale"})
	assert.True(t, couch.IsConflict(err))

	rev, err = client.Put(ctx, couch.Document{ID: "a", Rev: rev, Title: "second", UpdatedAt: 2})
	require.NoError(t, err)
	assert.Regexp(t, `^2-`, rev)

	doc, found, deleted, err := client.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, deleted)
	assert.Equal(t, "second", doc.Title)

	fake.Seed(couch.Document{ID: "a", Title: "gone", UpdatedAt: 3, Deleted: true})
	tomb, found, deleted, err := client.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, deleted)
	assert.Equal(t, int64(3), tomb.UpdatedAt)
	assert.Regexp(t, `^3-`, tomb.Rev)

	rev, err = client.Put(ctx, couch.Document{ID: "a", Title: "revived", UpdatedAt: 4})
	require.NoError(t, err, "a revision-less write over a tombstone is accepted")
	assert.Regexp(t, `^4-`, rev)

	_, found, deleted, err = client.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, deleted)

	assert.Equal(t, 2, fake.Requests(ReqEnsureDB))
	assert.Equal(t, 4, fake.Requests(ReqPutDoc))
	assert.Equal(t, 4, fake.Requests(ReqGetDoc))
}

func TestFakeCouch_ChangesLatestPerDoc(t *testing.T) {
	fake := NewFakeCouch(t, "tasks_db")
	client := couch.New(fake.URL(), "tasks_db")
	ctx := context.Background()

	fake.Seed(couch.Document{ID: "a", Title: "a1"})
	fake.Seed(couch.Document{ID: "b", Title: "b1"})
	fake.Seed(couch.Document{ID: "a", Title: "a2"})

	resp, err := client.Changes(ctx, "0")
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].ID)
	assert.Equal(t, "a", resp.Results[1].ID)
	require.NotNil(t, resp.Results[1].Doc)
	assert.Equal(t, "a2", resp.Results[1].Doc.Title)
	assert.Equal(t, fake.LastSeq(), resp.LastSeq.String())

	resp, err = client.Changes(ctx, resp.LastSeq.String())
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestFakeCouch_FailureInjection(t *testing.T) {
	fake := NewFakeCouch(t, "tasks_db")
	client := couch.New(fake.URL(), "tasks_db")
	ctx := context.Background()

	fake.Fail(ReqEnsureDB, http.StatusServiceUnavailable)
	err := client.EnsureDB(ctx)
	assert.Equal(t, http.StatusServiceUnavailable, couch.StatusCode(err))

	fake.Fail(ReqEnsureDB, 0)
	require.NoError(t, client.EnsureDB(ctx))

	fake.FailDoc("x", http.StatusConflict)
	_, err = client.Put(ctx, couch.Document{ID: "x"})
	assert.True(t, couch.IsConflict(err))
	_, err = client.Put(ctx, couch.Document{ID: "y"})
	assert.NoError(t, err)
}
