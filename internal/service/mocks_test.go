package service

import (
	"github.com/stretchr/testify/mock"

	"keyledger/backend/internal/domain"
)

// MockSubKeyRepository 模拟子密钥存储
type MockSubKeyRepository struct {
	mock.Mock
}

func (m *MockSubKeyRepository) LoadSubKeys() (map[string]domain.SubKey, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]domain.SubKey), args.Error(1)
}

func (m *MockSubKeyRepository) SaveSubKeys(keys map[string]domain.SubKey) error {
	args := m.Called(keys)
	return args.Error(0)
}

// MockMasterKeyRepository 模拟主密钥存储
type MockMasterKeyRepository struct {
	mock.Mock
}

func (m *MockMasterKeyRepository) LoadMasterKeys() ([]string, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMasterKeyRepository) SaveMasterKeys(keys []string) error {
	args := m.Called(keys)
	return args.Error(0)
}
