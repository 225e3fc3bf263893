package redisstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
)

func TestFamilyKey(t *testing.T) {
	require.Equal(t, "sync:family:42:notes", familyKey(syncqueue.Family{OwnerID: 42, EntityType: "notes"}))
}

func TestCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	st := New(addr, "", 0)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Ping(ctx))

	c := st.Cache(time.Minute)
	fam := syncqueue.Family{OwnerID: uint64(time.Now().UnixNano()), EntityType: "notes"}
	t.Cleanup(func() { st.rdb.Del(context.Background(), familyKey(fam)) })

	got, err := c.Current(ctx, fam)
	require.NoError(t, err)
	require.Empty(t, got)

	items := []syncqueue.Item{
		{ID: "n1", EntityType: "notes", Data: json.RawMessage(`{"title":"a"}`)},
		{ID: "n2", EntityType: "notes", ParentID: "f1", Data: json.RawMessage(`{"title":"b"}`)},
	}
	require.NoError(t, c.ReplaceOrMergeFamily(ctx, fam, items))

	got, err = c.Current(ctx, fam)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "f1", got[1].ParentID)
	require.JSONEq(t, `{"title":"b"}`, string(got[1].Data))

	require.NoError(t, c.ReplaceOrMergeFamily(ctx, fam, items[:1]))
	got, err = c.Current(ctx, fam)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
