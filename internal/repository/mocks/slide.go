package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"classroom-qa/internal/domain"
)

// SlideRepository is a mock type for the repository.SlideRepository type
type SlideRepository struct {
	mock.Mock
}

func (m *SlideRepository) Create(ctx context.Context, slide *domain.Slide) error {
	args := m.Called(ctx, slide)
	return args.Error(0)
}

func (m *SlideRepository) FindByID(ctx context.Context, id uint) (*domain.Slide, error) {
	args := m.Called(ctx, id)
	var slide *domain.Slide
	if v := args.Get(0); v != nil {
		slide = v.(*domain.Slide)
	}
	return slide, args.Error(1)
}

func (m *SlideRepository) IsStorageKeyReferenced(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// BlobStore is a mock type for the repository.BlobStore type
type BlobStore struct {
	mock.Mock
}

func (m *BlobStore) Put(ctx context.Context, data []byte) (string, bool, error) {
	args := m.Called(ctx, data)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *BlobStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *BlobStore) ListOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	args := m.Called(ctx, age)
	var keys []string
	if v := args.Get(0); v != nil {
		keys = v.([]string)
	}
	return keys, args.Error(1)
}
