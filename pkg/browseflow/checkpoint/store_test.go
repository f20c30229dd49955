package checkpoint_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/browseflow/pkg/browseflow/checkpoint"
)

type storeFactory func(t *testing.T) checkpoint.Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) checkpoint.Store {
			return checkpoint.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) checkpoint.Store {
			s, err := checkpoint.NewSQLiteStore(":memory:")
			require.NoError(t, err)
			return s
		},
		"sqlite_file": func(t *testing.T) checkpoint.Store {
			s, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "cp.db"))
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) checkpoint.Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return checkpoint.NewRedisStore(client, checkpoint.WithPrefix("test"))
		},
	}
}

// TestStoreContract runs the same behavior checks against every Store.
func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, factory := range stores() {
		t.Run(name+"/Save_and_Load", func(t *testing.T) {
			store := factory(t)
			defer store.Close()

			data := []byte(`{"key":"value"}`)
			require.NoError(t, store.Save(ctx, "wf-1", "planning_node", data))

			loaded, err := store.Load(ctx, "wf-1", "planning_node")
			require.NoError(t, err)
			assert.Equal(t, data, loaded)
		})

		t.Run(name+"/Load_NotFound", func(t *testing.T) {
			store := factory(t)
			defer store.Close()

			_, err := store.Load(ctx, "wf-missing", "planning_node")
			assert.ErrorIs(t, err, checkpoint.ErrNotFound)
		})

		t.Run(name+"/Overwrite_bumps_sequence", func(t *testing.T) {
			store := factory(t)
			defer store.Close()

			require.NoError(t, store.Save(ctx, "wf-1", "planning_node", []byte("first")))
			require.NoError(t, store.Save(ctx, "wf-1", "browser_action_node", []byte("second")))
			require.NoError(t, store.Save(ctx, "wf-1", "planning_node", []byte("third")))

			loaded, err := store.Load(ctx, "wf-1", "planning_node")
			require.NoError(t, err)
			assert.Equal(t, []byte("third"), loaded)

			infos, err := store.List(ctx, "wf-1")
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, "browser_action_node", infos[0].NodeID)
			assert.Equal(t, "planning_node", infos[1].NodeID)
			assert.Greater(t, infos[1].Sequence, infos[0].Sequence)
			assert.Equal(t, int64(len("third")), infos[1].Size)
		})

		t.Run(name+"/List_Empty", func(t *testing.T) {
			store := factory(t)
			defer store.Close()

			infos, err := store.List(ctx, "wf-none")
			require.NoError(t, err)
			assert.Empty(t, infos)
		})

		t.Run(name+"/Delete", func(t *testing.T) {
			store := factory(t)
			defer store.Close()

			require.NoError(t, store.Save(ctx, "wf-1", "a", []byte("1")))
			require.NoError(t, store.Save(ctx, "wf-1", "b", []byte("2")))
			require.NoError(t, store.Delete(ctx, "wf-1", "a"))
			require.NoError(t, store.Delete(ctx, "wf-1", "missing"))

			_, err := store.Load(ctx, "wf-1", "a")
			assert.ErrorIs(t, err, checkpoint.ErrNotFound)
			infos, err := store.List(ctx, "wf-1")
			require.NoError(t, err)
			assert.Len(t, infos, 1)
		})

		t.Run(name+"/DeleteRun", func(t *testing.T) {
			store := factory(t)
			defer store.Close()

			require.NoError(t, store.Save(ctx, "wf-1", "a", []byte("1")))
			require.NoError(t, store.Save(ctx, "wf-2", "a", []byte("2")))
			require.NoError(t, store.DeleteRun(ctx, "wf-1"))

			infos, err := store.List(ctx, "wf-1")
			require.NoError(t, err)
			assert.Empty(t, infos)

			loaded, err := store.Load(ctx, "wf-2", "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), loaded)
		})

		t.Run(name+"/Closed", func(t *testing.T) {
			store := factory(t)
			require.NoError(t, store.Close())

			assert.ErrorIs(t, store.Save(ctx, "wf-1", "a", nil), checkpoint.ErrStoreClosed)
			_, err := store.Load(ctx, "wf-1", "a")
			assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
		})
	}
}

// TestLoadLatest tests picking the highest sequence checkpoint.
func TestLoadLatest(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()

	_, err := checkpoint.LoadLatest(ctx, store, "wf-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	for i, node := range []string{"planning_node", "browser_action_node", "validation_node"} {
		cp := checkpoint.New("wf-1", "s-1", node, i+1, []byte(`{}`), []byte(`{}`), "next")
		data, err := cp.Marshal()
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, "wf-1", node, data))
	}

	latest, err := checkpoint.LoadLatest(ctx, store, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "validation_node", latest.NodeID)
	assert.Equal(t, "s-1", latest.SessionID)
}

// TestMemoryStore_RunLimit tests evicting the oldest checkpoints.
func TestMemoryStore_RunLimit(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore(checkpoint.WithRunLimit(2))

	for _, node := range []string{"a", "b", "c", "b"} {
		require.NoError(t, store.Save(ctx, "wf-1", node, []byte(node)))
	}
	require.NoError(t, store.Save(ctx, "wf-2", "a", []byte("x")))

	infos, err := store.List(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "c", infos[0].NodeID)
	assert.Equal(t, "b", infos[1].NodeID)
	assert.Equal(t, 4, infos[1].Sequence)

	_, err = store.Load(ctx, "wf-1", "a")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	assert.Equal(t, 3, store.Len())
}

// TestMemoryStore_SequenceAfterDelete tests that sequences never repeat.
func TestMemoryStore_SequenceAfterDelete(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()

	require.NoError(t, store.Save(ctx, "wf", "a", nil))
	require.NoError(t, store.Save(ctx, "wf", "b", nil))
	require.NoError(t, store.Delete(ctx, "wf", "b"))
	require.NoError(t, store.Save(ctx, "wf", "c", nil))

	infos, err := store.List(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 3, infos[1].Sequence)
}

// TestSQLiteStore_Retention tests pruning expired checkpoints.
func TestSQLiteStore_Retention(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cp.db")

	keep, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, keep.Save(ctx, "wf-1", "planning_node", []byte("a")))
	n, err := keep.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, keep.Close())

	time.Sleep(5 * time.Millisecond)
	reopened, err := checkpoint.NewSQLiteStore(path, checkpoint.WithRetention(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	infos, err := reopened.List(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, infos)

	require.NoError(t, reopened.Save(ctx, "wf-2", "planning_node", []byte("b")))
	time.Sleep(5 * time.Millisecond)
	n, err = reopened.Prune(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, reopened.Close())
	_, err = reopened.Prune(ctx)
	assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
}

// TestUnmarshal_VersionMismatch tests rejecting unknown formats.
func TestUnmarshal_VersionMismatch(t *testing.T) {
	_, err := checkpoint.Unmarshal([]byte(`{"version":99}`))
	require.Error(t, err)

	_, err = checkpoint.Unmarshal([]byte(`not json`))
	require.Error(t, err)
}

// TestRedisStore_TTL tests that checkpoints expire.
func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := checkpoint.NewRedisStore(client, checkpoint.WithTTL(time.Minute))
	require.NoError(t, store.Save(ctx, "wf-1", "a", []byte("x")))

	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "wf-1", "a")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}
