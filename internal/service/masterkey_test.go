package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/storage"
	"keyledger/backend/internal/storage/memory"
)

func TestMasterKeyRegistry_LoadCreatesPlaceholder(t *testing.T) {
	store := memory.NewStore()
	reg := NewMasterKeyRegistry(store, MasterKeyOptions{}, nil)
	reg.Load()

	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.HasPlaceholder())

	persisted, err := store.LoadMasterKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{domain.PlaceholderMasterKey}, persisted)

	// 生产模式下占位主密钥不能通过校验
	assert.False(t, reg.Validate(domain.PlaceholderMasterKey))

	dev := NewMasterKeyRegistry(store, MasterKeyOptions{AllowPlaceholder: true}, nil)
	dev.Load()
	assert.True(t, dev.Validate(domain.PlaceholderMasterKey))
}

func TestMasterKeyRegistry_Validate(t *testing.T) {
	reg := NewMasterKeyRegistry(memory.NewStoreWithMasterKeys("mk-1", "mk-2"), MasterKeyOptions{}, nil)
	reg.Load()

	assert.True(t, reg.Validate("mk-1"))
	assert.True(t, reg.Validate("mk-2"))
	assert.False(t, reg.Validate("mk-3"))
	assert.False(t, reg.Validate("MK-1"))
	assert.False(t, reg.Validate(""))
	assert.False(t, reg.HasPlaceholder())
}

func TestMasterKeyRegistry_AddRemove(t *testing.T) {
	store := memory.NewStoreWithMasterKeys("mk-1")
	reg := NewMasterKeyRegistry(store, MasterKeyOptions{}, nil)
	reg.Load()

	assert.True(t, reg.Add("mk-2"))
	assert.False(t, reg.Add("mk-2"))
	assert.False(t, reg.Add("  "))
	assert.True(t, reg.Validate("mk-2"))
	assert.Equal(t, 2, reg.Count())

	persisted, err := store.LoadMasterKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"mk-1", "mk-2"}, persisted)

	assert.True(t, reg.Remove("mk-1"))
	assert.False(t, reg.Remove("mk-1"))
	assert.False(t, reg.Validate("mk-1"))

	persisted, err = store.LoadMasterKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"mk-2"}, persisted)
}

func TestMasterKeyRegistry_PersistFailureRollsBack(t *testing.T) {
	repo := new(MockMasterKeyRepository)
	repo.On("LoadMasterKeys").Return([]string{"mk-1"}, nil)
	repo.On("SaveMasterKeys", mock.Anything).Return(errors.New("read-only filesystem"))

	reg := NewMasterKeyRegistry(repo, MasterKeyOptions{}, nil)
	reg.Load()

	assert.False(t, reg.Add("mk-2"))
	assert.False(t, reg.Validate("mk-2"))
	assert.False(t, reg.Contains("mk-2"))

	assert.False(t, reg.Remove("mk-1"))
	assert.True(t, reg.Validate("mk-1"))
	assert.Equal(t, 1, reg.Count())

	repo.AssertNumberOfCalls(t, "SaveMasterKeys", 2)
}

func TestMasterKeyRegistry_LoadError(t *testing.T) {
	repo := new(MockMasterKeyRepository)
	repo.On("LoadMasterKeys").Return(nil, errors.New("permission denied"))

	reg := NewMasterKeyRegistry(repo, MasterKeyOptions{}, nil)
	reg.Load()

	assert.Zero(t, reg.Count())
	assert.False(t, reg.Validate("anything"))
	repo.AssertNotCalled(t, "SaveMasterKeys", mock.Anything)
}

func TestMasterKeyRegistry_LoadDeduplicates(t *testing.T) {
	repo := new(MockMasterKeyRepository)
	repo.On("LoadMasterKeys").Return([]string{"mk-1", "mk-1", "", "mk-2"}, nil)

	reg := NewMasterKeyRegistry(repo, MasterKeyOptions{}, nil)
	reg.Load()

	assert.Equal(t, 2, reg.Count())
}

func TestMasterKeyRegistry_NotExistUsesStorageSentinel(t *testing.T) {
	repo := new(MockMasterKeyRepository)
	repo.On("LoadMasterKeys").Return(nil, storage.ErrNotExist)
	repo.On("SaveMasterKeys", []string{domain.PlaceholderMasterKey}).Return(nil)

	reg := NewMasterKeyRegistry(repo, MasterKeyOptions{}, nil)
	reg.Load()

	assert.True(t, reg.HasPlaceholder())
	repo.AssertExpectations(t)
}
