package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/metrics"
	"classroom-qa/internal/repository"
)

const (
	defaultMaxUploadBytes = 25 << 20
	defaultPDFTimeout     = 10 * time.Second
	pdfTrailerWindow      = 1024
)

// CleanupScheduler 在补偿删除失败时安排一次后台清理。
type CleanupScheduler interface {
	ScheduleBlobCleanup(ctx context.Context, key string) error
}

// SlideService 负责讲义上传和 blob 存储的孤儿清理。
// 上传先写 blob 再提交元数据；元数据提交失败时删除刚写入的 blob（补偿，而非两阶段提交）。
// blob 按内容寻址，同样内容的上传共享一个 blob，所以任何删除都要确认既没有讲义引用，
// 也没有本进程内其他尚未提交的上传正在使用它。
type SlideService struct {
	access
	slides     repository.SlideRepository
	blobs      repository.BlobStore
	cleanup    CleanupScheduler
	maxBytes   int64
	pdfTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]int // key -> 已写入 blob 但还没结束的上传数
}

// NewSlideService 创建 SlideService 实例。
func NewSlideService(
	slides repository.SlideRepository,
	sessions repository.SessionRepository,
	enrollments repository.EnrollmentRepository,
	blobs repository.BlobStore,
	cleanup CleanupScheduler,
	maxBytes int64,
	pdfTimeout time.Duration,
) *SlideService {
	if slides == nil || sessions == nil || enrollments == nil {
		panic("repositories cannot be nil for SlideService")
	}
	if blobs == nil {
		panic("BlobStore cannot be nil for SlideService")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	if pdfTimeout <= 0 {
		pdfTimeout = defaultPDFTimeout
	}
	return &SlideService{
		access:     access{sessions: sessions, enrollments: enrollments},
		slides:     slides,
		blobs:      blobs,
		cleanup:    cleanup,
		maxBytes:   maxBytes,
		pdfTimeout: pdfTimeout,
		inflight:   make(map[string]int),
	}
}

// UploadSlide 上传一份 PDF 讲义，仅 TA/PROFESSOR 可用。
func (s *SlideService) UploadSlide(ctx context.Context, actorID, sessionID uint, fileName string, r io.Reader) (*domain.Slide, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": actorID, "session_id": sessionID})

	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, newValidationError("File name is required")
	}
	if len(fileName) > 255 {
		return nil, newValidationError("File name must be at most 255 characters")
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireInstructor(ctx, session.CourseID, actorID); err != nil {
		return nil, err
	}
	if session.Ended() {
		return nil, ErrSessionEnded
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		logCtx.WithError(err).Warn("Failed to read upload body")
		return nil, newValidationError("Failed to read uploaded file")
	}
	if int64(len(data)) > s.maxBytes {
		return nil, newValidationError("File exceeds the maximum upload size of %d bytes", s.maxBytes)
	}

	if err := s.validatePDF(ctx, data); err != nil {
		logCtx.WithError(err).Info("Rejected slide upload")
		return nil, err
	}

	// 在 Put 之前登记，补偿和清理在 Put 与提交之间也能看到这次上传
	key := contentKey(data)
	s.acquire(key)
	defer s.release(key)

	storedKey, created, err := s.blobs.Put(ctx, data)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("blob", "put").Inc()
		logCtx.WithError(err).Error("Failed to store slide blob")
		return nil, ErrInternalServer
	}
	if storedKey != key {
		logCtx.WithFields(logrus.Fields{"expected_key": key, "stored_key": storedKey}).Warn("Blob store returned an unexpected key")
		s.acquire(storedKey)
		defer s.release(storedKey)
		key = storedKey
	}
	logCtx = logCtx.WithFields(logrus.Fields{"storage_key": key, "blob_created": created})

	slide := &domain.Slide{
		SessionID:  sessionID,
		FileName:   fileName,
		StorageKey: key,
		SizeBytes:  int64(len(data)),
		UploadedBy: actorID,
	}
	if err := s.slides.Create(ctx, slide); err != nil {
		logCtx.WithError(err).Error("Failed to commit slide metadata, compensating")
		s.compensate(ctx, key)
		return nil, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{"slide_id": slide.ID, "size": slide.SizeBytes}).Info("Slide uploaded")
	return slide, nil
}

func contentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *SlideService) acquire(key string) {
	s.mu.Lock()
	s.inflight[key]++
	s.mu.Unlock()
}

func (s *SlideService) release(key string) {
	s.mu.Lock()
	if s.inflight[key] <= 1 {
		delete(s.inflight, key)
	} else {
		s.inflight[key]--
	}
	s.mu.Unlock()
}

// removeIfOrphan 在 blob 没有讲义引用、也没有其他上传在用时删除它。
// held 是调用方自己登记的上传数。检查和删除在同一把锁内完成，新的上传不会插进中间。
func (s *SlideService) removeIfOrphan(ctx context.Context, key string, held int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight[key] > held {
		logrus.WithField("storage_key", key).Info("Blob is used by an upload in progress, skipping cleanup")
		return false, nil
	}
	referenced, err := s.slides.IsStorageKeyReferenced(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check blob reference %s: %w", key, err)
	}
	if referenced {
		logrus.WithField("storage_key", key).Info("Blob is referenced, skipping cleanup")
		return false, nil
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("blob", "delete").Inc()
		return false, fmt.Errorf("delete blob %s: %w", key, err)
	}
	return true, nil
}

// compensate 删除提交失败留下的孤儿 blob；检查或删除失败时交给后台任务重试
func (s *SlideService) compensate(ctx context.Context, key string) {
	logCtx := logrus.WithField("storage_key", key)
	// 请求可能已经被取消，补偿不应随之放弃
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	removed, err := s.removeIfOrphan(cctx, key, 1)
	if err == nil {
		if removed {
			logCtx.Info("Orphaned blob deleted")
		}
		return
	}
	logCtx.WithError(err).Warn("Failed to delete orphaned blob, scheduling cleanup")

	if s.cleanup == nil {
		logCtx.Error("No cleanup scheduler configured, blob left for periodic sweep")
		return
	}
	if err := s.cleanup.ScheduleBlobCleanup(cctx, key); err != nil {
		logCtx.WithError(err).Error("Failed to schedule blob cleanup, blob left for periodic sweep")
	}
}

// validatePDF 在超时限制内检查 PDF 的文件头和结尾标记
func (s *SlideService) validatePDF(ctx context.Context, data []byte) error {
	vctx, cancel := context.WithTimeout(ctx, s.pdfTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- checkPDFStructure(data) }()

	select {
	case err := <-result:
		return err
	case <-vctx.Done():
		return newValidationError("PDF validation timed out")
	}
}

func checkPDFStructure(data []byte) error {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return newValidationError("File is not a PDF")
	}
	tail := bytes.TrimRight(data, " \t\r\n\x00")
	if len(tail) > pdfTrailerWindow {
		tail = tail[len(tail)-pdfTrailerWindow:]
	}
	if !bytes.Contains(tail, []byte("%%EOF")) {
		return newValidationError("PDF file is truncated or corrupt")
	}
	return nil
}

// CleanupBlob 删除没有讲义引用的 blob。被引用或正在上传时什么也不做。
func (s *SlideService) CleanupBlob(ctx context.Context, key string) error {
	removed, err := s.removeIfOrphan(ctx, key, 0)
	if err != nil {
		return err
	}
	if removed {
		logrus.WithField("storage_key", key).Info("Orphaned blob cleaned up")
	}
	return nil
}

// SweepOrphans 删除所有早于 minAge 且没有讲义引用的 blob，返回删除的数量。
// minAge 给正在上传、元数据尚未提交的 blob 留出时间。
func (s *SlideService) SweepOrphans(ctx context.Context, minAge time.Duration) (int, error) {
	keys, err := s.blobs.ListOlderThan(ctx, minAge)
	if err != nil {
		return 0, fmt.Errorf("list blobs: %w", err)
	}
	removed := 0
	var errs []error
	for _, key := range keys {
		ok, err := s.removeIfOrphan(ctx, key, 0)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	logrus.WithFields(logrus.Fields{"scanned": len(keys), "removed": removed}).Info("Blob sweep finished")
	return removed, errors.Join(errs...)
}
