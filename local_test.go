package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalStringStore(t *testing.T) {
	store := NewLocalStringStore(nil)
	ctx := context.Background()

	assert.NotNil(t, store)
	assert.Nil(t, store.Ping(ctx))

	value, err := store.Get(ctx, "foo")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, value)

	assert.Nil(t, store.Set(ctx, "foo", "bar"))
	value, err = store.Get(ctx, "foo")
	assert.Nil(t, err)
	assert.Equal(t, "bar", value)
	assert.Equal(t, int64(6), store.Used())

	assert.Nil(t, store.Del(ctx, "foo", "missing"))
	_, err = store.Get(ctx, "foo")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(0), store.Used())
}

func TestLocalStringStoreKeys(t *testing.T) {
	store := NewLocalStringStore(nil)
	ctx := context.Background()

	store.Set(ctx, "cache:foo", "1")
	store.Set(ctx, "cache:fizz", "2")
	store.Set(ctx, "other:foo", "3")

	keys, err := store.Keys(ctx, "cache:")
	assert.Nil(t, err)
	assert.ElementsMatch(t, []string{"cache:foo", "cache:fizz"}, keys)

	keys, err = store.Keys(ctx, "nothing:")
	assert.Nil(t, err)
	assert.Empty(t, keys)
}

func TestLocalStringStoreCapacity(t *testing.T) {
	store := NewLocalStringStore(&LocalStringStoreOptions{Capacity: 20})
	ctx := context.Background()

	assert.Nil(t, store.Set(ctx, "a", strings.Repeat("x", 9)))
	assert.Nil(t, store.Set(ctx, "b", strings.Repeat("x", 9)))
	assert.Equal(t, int64(20), store.Used())

	err := store.Set(ctx, "c", "x")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	_, err = store.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)

	// overwriting is charged by the difference only
	assert.Nil(t, store.Set(ctx, "a", strings.Repeat("y", 4)))
	assert.Equal(t, int64(15), store.Used())
	assert.Nil(t, store.Set(ctx, "c", "xxxx"))
	assert.Equal(t, int64(20), store.Used())

	assert.Nil(t, store.Close())
	assert.Equal(t, int64(0), store.Used())
	keys, _ := store.Keys(ctx, "")
	assert.Empty(t, keys)
}
