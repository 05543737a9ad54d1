package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidKey 表示 key 不是 sha256 十六进制串
var ErrInvalidKey = errors.New("blob: invalid storage key")

// LocalStore 把内容按 sha256 寻址存放在本地目录中。
// 相同内容只存一份，Put 是幂等的。
type LocalStore struct {
	dir string
}

// NewLocalStore 创建 LocalStore，目录不存在时自动创建
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob: directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if len(key) != sha256.Size*2 {
		return "", ErrInvalidKey
	}
	if _, err := hex.DecodeString(key); err != nil {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.dir, key), nil
}

// Put 先写临时文件再 rename，读者不会看到写了一半的内容
func (s *LocalStore) Put(ctx context.Context, data []byte) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	target := filepath.Join(s.dir, key)

	if _, err := os.Stat(target); err == nil {
		return key, false, nil
	}

	tmp := filepath.Join(s.dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", false, fmt.Errorf("blob: write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", false, fmt.Errorf("blob: rename %s: %w", key, err)
	}
	logrus.WithFields(logrus.Fields{"key": key, "size": len(data)}).Debug("Blob stored")
	return key, true, nil
}

// Delete 删除 blob；不存在时视为成功
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}

// ListOlderThan 列出修改时间早于 now-age 的 blob，忽略临时文件
func (s *LocalStore) ListOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("blob: read directory %s: %w", s.dir, err)
	}
	cutoff := time.Now().Add(-age)
	var keys []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		if entry.IsDir() {
			continue
		}
		if _, err := s.path(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			keys = append(keys, entry.Name())
		}
	}
	return keys, nil
}
