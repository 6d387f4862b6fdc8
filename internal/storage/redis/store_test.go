package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/hemisphere"
	"duotronics/internal/llm"
)

func TestStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := NewStore(ctx, Config{Address: mr.Addr(), Key: "test:hemispheres"})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Read(ctx)
	assert.Equal(t, xerrors.CodeNotConfigured, xerrors.CodeOf(err))
	assert.False(t, hemisphere.IsConfigured(ctx, store))

	want := hemisphere.Settings{
		Logic:  hemisphere.Config{Provider: llm.ProviderOpenAI, APIKey: "sk-1", Model: "gpt-4-turbo"},
		Artist: hemisphere.Config{Provider: llm.ProviderAnthropic, APIKey: "sk-2", Model: "claude-sonnet-4-5"},
	}
	require.NoError(t, store.Write(ctx, want))

	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.True(t, hemisphere.IsConfigured(ctx, store))
	assert.True(t, mr.Exists("test:hemispheres"))
}

func TestStoreCorruptValueIsNotConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set(defaultKey, "logic: [oops"))

	store, err := NewStore(context.Background(), Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Read(context.Background())
	assert.Equal(t, xerrors.CodeNotConfigured, xerrors.CodeOf(err))
}

func TestNewStoreRequiresAddress(t *testing.T) {
	_, err := NewStore(context.Background(), Config{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	assert.Equal(t, "invalid argument", xerrors.MessageOf(err))
}

func TestWriteFailureKeepsGenericMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewStore(context.Background(), Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	mr.Close()
	err = store.Write(context.Background(), hemisphere.Settings{})
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
	assert.Equal(t, "storage failure", xerrors.MessageOf(err))
	assert.Contains(t, err.Error(), "写入 Redis 配置失败")
}
