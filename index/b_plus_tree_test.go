package index

import (
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jobala/petro/buffer"
	"github.com/jobala/petro/storage/disk"
	"github.com/stretchr/testify/assert"
)

func TestBPlusTree(t *testing.T) {
	t.Run("stored values can be retrieved", func(t *testing.T) {
		bpm := createTestBpm(t, 32)
		tree, err := NewBPlusTree("test", bpm, DefaultLeafMaxSize, DefaultInternalMaxSize)
		assert.NoError(t, err)

		register := map[int64]RID{
			1: {PageID: 1, Slot: 0},
			2: {PageID: 1, Slot: 1},
			3: {PageID: 2, Slot: 0},
		}
		for k, v := range register {
			assert.NoError(t, tree.Insert(k, v))
		}

		for k, v := range register {
			got, ok, err := tree.GetValue(k)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, v, got)
		}

		_, ok, err := tree.GetValue(99)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rejects duplicate keys", func(t *testing.T) {
		bpm := createTestBpm(t, 32)
		tree, err := NewBPlusTree("test", bpm, DefaultLeafMaxSize, DefaultInternalMaxSize)
		assert.NoError(t, err)

		assert.NoError(t, tree.Insert(1, RID{PageID: 1, Slot: 0}))
		err = tree.Insert(1, RID{PageID: 1, Slot: 1})
		assert.Error(t, err)
	})

	t.Run("matches the sample scenario from the reference implementation", func(t *testing.T) {
		bpm := createTestBpm(t, 64)
		tree, err := NewBPlusTree("test", bpm, 4, 4)
		assert.NoError(t, err)

		for i := int64(1); i <= 10; i++ {
			assert.NoError(t, tree.Insert(i, RID{PageID: disk.PageID(i), Slot: 0}))
		}

		got, ok, err := tree.GetValue(7)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, RID{PageID: 7, Slot: 0}, got)

		it, err := tree.BeginAt(3)
		assert.NoError(t, err)

		var seen []int64
		for !it.IsEnd() {
			k, _, err := it.Next()
			assert.NoError(t, err)
			seen = append(seen, k)
			if k == 10 {
				break
			}
		}
		assert.Equal(t, []int64{3, 4, 5, 6, 7, 8, 9, 10}, seen)
	})

	t.Run("splits pages beyond max size and keeps all values retrievable", func(t *testing.T) {
		bpm := createTestBpm(t, 128)
		tree, err := NewBPlusTree("test", bpm, 4, 4)
		assert.NoError(t, err)

		const n = 100
		for i := int64(n); i >= 1; i-- {
			assert.NoError(t, tree.Insert(i, RID{PageID: disk.PageID(i), Slot: 0}))
		}

		for i := int64(1); i <= n; i++ {
			got, ok, err := tree.GetValue(i)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, RID{PageID: disk.PageID(i), Slot: 0}, got)
		}
	})

	t.Run("iterates all keys in ascending order after many inserts", func(t *testing.T) {
		bpm := createTestBpm(t, 128)
		tree, err := NewBPlusTree("test", bpm, 4, 4)
		assert.NoError(t, err)

		keys := []int64{5, 3, 8, 1, 9, 2, 7, 4, 6, 10}
		for _, k := range keys {
			assert.NoError(t, tree.Insert(k, RID{PageID: disk.PageID(k), Slot: 0}))
		}

		it, err := tree.Begin()
		assert.NoError(t, err)

		var seen []int64
		for !it.IsEnd() {
			k, _, err := it.Next()
			assert.NoError(t, err)
			seen = append(seen, k)
		}
		assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)
	})

	t.Run("removing a key makes it unfindable and leaves the rest intact", func(t *testing.T) {
		bpm := createTestBpm(t, 128)
		tree, err := NewBPlusTree("test", bpm, 4, 4)
		assert.NoError(t, err)

		const n = 50
		for i := int64(1); i <= n; i++ {
			assert.NoError(t, tree.Insert(i, RID{PageID: disk.PageID(i), Slot: 0}))
		}

		for i := int64(1); i <= n; i += 2 {
			removed, err := tree.Remove(i)
			assert.NoError(t, err)
			assert.True(t, removed)
		}

		for i := int64(1); i <= n; i++ {
			_, ok, err := tree.GetValue(i)
			assert.NoError(t, err)
			if i%2 == 1 {
				assert.False(t, ok, "key %d should have been removed", i)
			} else {
				assert.True(t, ok, "key %d should still be present", i)
			}
		}

		it, err := tree.Begin()
		assert.NoError(t, err)
		var seen []int64
		for !it.IsEnd() {
			k, _, err := it.Next()
			assert.NoError(t, err)
			seen = append(seen, k)
		}
		for _, k := range seen {
			assert.Equal(t, int64(0), k%2)
		}
	})

	t.Run("removing every key empties the tree", func(t *testing.T) {
		bpm := createTestBpm(t, 128)
		tree, err := NewBPlusTree("test", bpm, 4, 4)
		assert.NoError(t, err)

		const n = 30
		for i := int64(1); i <= n; i++ {
			assert.NoError(t, tree.Insert(i, RID{PageID: disk.PageID(i), Slot: 0}))
		}
		for i := int64(1); i <= n; i++ {
			removed, err := tree.Remove(i)
			assert.NoError(t, err)
			assert.True(t, removed)
		}

		empty, err := tree.IsEmpty()
		assert.NoError(t, err)
		assert.True(t, empty)

		removed, err := tree.Remove(1)
		assert.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("removing an absent key is a no-op", func(t *testing.T) {
		bpm := createTestBpm(t, 32)
		tree, err := NewBPlusTree("test", bpm, DefaultLeafMaxSize, DefaultInternalMaxSize)
		assert.NoError(t, err)

		assert.NoError(t, tree.Insert(1, RID{PageID: 1, Slot: 0}))

		removed, err := tree.Remove(99)
		assert.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("insert-then-remove round trip leaves an empty tree for any order", func(t *testing.T) {
		bpm := createTestBpm(t, 128)
		tree, err := NewBPlusTree("test", bpm, 4, 4)
		assert.NoError(t, err)

		insertOrder := []int64{7, 2, 9, 4, 1, 8, 3, 6, 5, 10, 15, 12, 11, 14, 13}
		removeOrder := []int64{3, 1, 15, 8, 5, 2, 9, 4, 6, 7, 10, 11, 13, 12, 14}

		for _, k := range insertOrder {
			assert.NoError(t, tree.Insert(k, RID{PageID: disk.PageID(k), Slot: 0}))
		}
		for _, k := range removeOrder {
			removed, err := tree.Remove(k)
			assert.NoError(t, err)
			assert.True(t, removed, "key %d should have been present", k)
		}

		empty, err := tree.IsEmpty()
		assert.NoError(t, err)
		assert.True(t, empty)
	})

	t.Run("random key sets round-trip through insert, lookup, and removal", func(t *testing.T) {
		faker := gofakeit.New(1)

		bpm := createTestBpm(t, 128)
		tree, err := NewBPlusTree("test", bpm, 5, 5)
		assert.NoError(t, err)

		seen := map[int64]RID{}
		for len(seen) < 60 {
			k := int64(faker.Number(1, 5000))
			if _, dup := seen[k]; dup {
				continue
			}
			rid := RID{PageID: disk.PageID(k), Slot: uint32(faker.Number(0, 100))}
			seen[k] = rid
			assert.NoError(t, tree.Insert(k, rid))
		}

		for k, rid := range seen {
			got, ok, err := tree.GetValue(k)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, rid, got)
		}

		keys := make([]int64, 0, len(seen))
		for k := range seen {
			keys = append(keys, k)
		}
		for i := len(keys) - 1; i > 0; i-- {
			j := faker.Number(0, i)
			keys[i], keys[j] = keys[j], keys[i]
		}

		for i, k := range keys {
			if i%2 == 1 {
				continue
			}
			removed, err := tree.Remove(k)
			assert.NoError(t, err)
			assert.True(t, removed)
			delete(seen, k)
		}

		for i, k := range keys {
			_, ok, err := tree.GetValue(k)
			assert.NoError(t, err)
			if i%2 == 1 {
				assert.True(t, ok, "key %d should still be present", k)
			} else {
				assert.False(t, ok, "key %d should have been removed", k)
			}
		}
	})
}

func createTestBpm(t *testing.T, poolSize int) *buffer.BufferpoolManager {
	t.Helper()
	file := createIndexTestDbFile(t)

	replacer := buffer.NewLrukReplacer(poolSize, 2)
	diskMgr := disk.NewManager(file)
	scheduler := disk.NewScheduler(diskMgr)

	return buffer.NewBufferpoolManager(poolSize, replacer, scheduler)
}

func createIndexTestDbFile(t *testing.T) *os.File {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating db file\n%v", err))
	}

	if err := os.Truncate(file.Name(), disk.PAGE_SIZE*16); err != nil {
		panic(err)
	}
	return file
}
