package pkg

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type testEntry struct {
	Sequence int    `json:"sequence"`
	Name     string `json:"name"`
}

func TestLines(t *testing.T) {
	t.Run("NewLines creates the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.jsonl")

		store, err := NewLines[testEntry](path)
		require.NoError(t, err)
		defer store.Close()

		require.Equal(t, path, store.Path())
		require.FileExists(t, path)
	})

	t.Run("Append and Get round-trip", func(t *testing.T) {
		store, err := NewLines[testEntry](filepath.Join(t.TempDir(), "out.jsonl"))
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Append(testEntry{Sequence: 1, Name: "first"}))
		require.NoError(t, store.Append(testEntry{Sequence: 2, Name: "second"}))

		got, err := store.Get(0)
		require.NoError(t, err)
		require.Equal(t, testEntry{Sequence: 1, Name: "first"}, got)

		got, err = store.Get(1)
		require.NoError(t, err)
		require.Equal(t, testEntry{Sequence: 2, Name: "second"}, got)

		_, err = store.Get(2)
		require.Error(t, err)
	})

	t.Run("Len tracks appends", func(t *testing.T) {
		store, err := NewLines[int](filepath.Join(t.TempDir(), "out.jsonl"))
		require.NoError(t, err)
		defer store.Close()

		require.Equal(t, uint64(0), store.Len())

		require.NoError(t, store.Append(1))
		require.NoError(t, store.AppendBatch([]int{2, 3, 4}))
		require.Equal(t, uint64(4), store.Len())
	})

	t.Run("Range iterates in append order", func(t *testing.T) {
		store, err := NewLines[int](filepath.Join(t.TempDir(), "out.jsonl"))
		require.NoError(t, err)
		defer store.Close()

		expected := []int{100, 200, 300}
		require.NoError(t, store.AppendBatch(expected))

		var collected []int
		err = store.Range(func(_ uint64, item int) error {
			collected = append(collected, item)
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, expected, collected)
	})

	t.Run("Range callback error stops iteration", func(t *testing.T) {
		store, err := NewLines[int](filepath.Join(t.TempDir(), "out.jsonl"))
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.AppendBatch([]int{1, 2, 3}))

		count := 0
		err = store.Range(func(index uint64, _ int) error {
			count++
			if index == 1 {
				return errors.New("stop at index 1")
			}
			return nil
		})
		require.Error(t, err)
		require.Equal(t, 2, count)
	})

	t.Run("output is one JSON document per line", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.jsonl")

		store, err := NewLines[testEntry](path)
		require.NoError(t, err)

		require.NoError(t, store.Append(testEntry{Sequence: 1, Name: "a"}))
		require.NoError(t, store.Append(testEntry{Sequence: 2, Name: "b"}))
		require.NoError(t, store.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		require.Len(t, lines, 2)
		require.JSONEq(t, `{"sequence":1,"name":"a"}`, lines[0])
		require.JSONEq(t, `{"sequence":2,"name":"b"}`, lines[1])
	})

	t.Run("Sync flushes buffered writes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.jsonl")

		store, err := NewLines[int](path)
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Append(42))
		require.NoError(t, store.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "42\n", string(data))
	})

	t.Run("Close is idempotent", func(t *testing.T) {
		store, err := NewLines[int](filepath.Join(t.TempDir(), "out.jsonl"))
		require.NoError(t, err)

		require.NoError(t, store.Append(1))
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())
	})

	t.Run("NewLines fails on an unwritable path", func(t *testing.T) {
		_, err := NewLines[int](filepath.Join(t.TempDir(), "missing", "out.jsonl"))
		require.Error(t, err)
	})
}

// BenchmarkLinesAppend measures the cost of appending entries.
func BenchmarkLinesAppend(b *testing.B) {
	store, err := NewLines[testEntry](filepath.Join(b.TempDir(), "out.jsonl"))
	if err != nil {
		b.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	entry := testEntry{Sequence: 7, Name: "bench"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Append(entry)
	}
}
