package repository

import (
	"context"
	"time"

	"classroom-qa/internal/domain"
)

// SlideRepository 定义了讲义元数据的存储操作。
type SlideRepository interface {
	Create(ctx context.Context, slide *domain.Slide) error
	FindByID(ctx context.Context, id uint) (*domain.Slide, error)

	// IsStorageKeyReferenced 判断是否有讲义引用该 blob。
	IsStorageKeyReferenced(ctx context.Context, key string) (bool, error)
}

// BlobStore 是按内容寻址的二进制存储协作者。
type BlobStore interface {
	// Put 写入内容并返回其 sha256 十六进制 key；created 为 false 表示相同内容已经存在。
	Put(ctx context.Context, data []byte) (key string, created bool, err error)
	Delete(ctx context.Context, key string) error
	// ListOlderThan 列出修改时间早于 age 的 key，供孤儿清理使用。
	ListOlderThan(ctx context.Context, age time.Duration) ([]string, error)
}
