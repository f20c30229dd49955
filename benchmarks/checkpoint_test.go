package benchmarks

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/browseflow/pkg/browseflow/checkpoint"
)

func snapshot(b *testing.B) []byte {
	b.Helper()
	scratch, err := json.Marshal(largeScratch())
	if err != nil {
		b.Fatal(err)
	}
	cp := checkpoint.New("wf-1", "bench", "validation_node", 1, scratch, []byte(`{"status":"running"}`), "planning_node")
	data, err := cp.Marshal()
	if err != nil {
		b.Fatal(err)
	}
	return data
}

func sqliteStore(b *testing.B) checkpoint.Store {
	b.Helper()
	s, err := checkpoint.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = s.Close() })
	return s
}

func redisStore(b *testing.B) checkpoint.Store {
	b.Helper()
	mr := miniredis.RunT(b)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { _ = client.Close() })
	return checkpoint.NewRedisStore(client)
}

func benchmarkSave(b *testing.B, store checkpoint.Store) {
	data := snapshot(b)
	ctx := context.Background()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Save(ctx, "wf-1", nodeID(i%4), data); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkLoadLatest(b *testing.B, store checkpoint.Store) {
	data := snapshot(b)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := store.Save(ctx, "wf-1", nodeID(i), data); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := checkpoint.LoadLatest(ctx, store, "wf-1"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMemoryStore_Save measures in-memory checkpoint save.
func BenchmarkMemoryStore_Save(b *testing.B) {
	benchmarkSave(b, checkpoint.NewMemoryStore())
}

// BenchmarkMemoryStore_LoadLatest measures in-memory recovery lookup.
func BenchmarkMemoryStore_LoadLatest(b *testing.B) {
	benchmarkLoadLatest(b, checkpoint.NewMemoryStore())
}

// BenchmarkSQLiteStore_Save measures SQLite checkpoint save.
func BenchmarkSQLiteStore_Save(b *testing.B) {
	benchmarkSave(b, sqliteStore(b))
}

// BenchmarkSQLiteStore_LoadLatest measures SQLite recovery lookup.
func BenchmarkSQLiteStore_LoadLatest(b *testing.B) {
	benchmarkLoadLatest(b, sqliteStore(b))
}

// BenchmarkRedisStore_Save measures Redis checkpoint save against miniredis.
func BenchmarkRedisStore_Save(b *testing.B) {
	benchmarkSave(b, redisStore(b))
}

// BenchmarkRedisStore_LoadLatest measures Redis recovery lookup against miniredis.
func BenchmarkRedisStore_LoadLatest(b *testing.B) {
	benchmarkLoadLatest(b, redisStore(b))
}

// BenchmarkCheckpoint_Unmarshal measures decoding a stored snapshot.
func BenchmarkCheckpoint_Unmarshal(b *testing.B) {
	data := snapshot(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := checkpoint.Unmarshal(data); err != nil {
			b.Fatal(err)
		}
	}
}
