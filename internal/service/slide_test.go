package service_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/infra/blob"
	"classroom-qa/internal/service"
)

var validPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

type recordingScheduler struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (r *recordingScheduler) ScheduleBlobCleanup(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return r.err
}

func (d *deps) slideService(cleanup service.CleanupScheduler) *service.SlideService {
	return service.NewSlideService(d.slides, d.sessions, d.enrollments, d.blobs, cleanup, 1024, time.Second)
}

func TestUploadSlide_Success(t *testing.T) {
	d := newDeps().withCourse().withSession(activeSession())
	d.blobs.On("Put", mock.Anything, validPDF).Return("abc", true, nil).Once()
	d.slides.On("Create", mock.Anything, mock.MatchedBy(func(s *domain.Slide) bool {
		return s.StorageKey == "abc" && s.FileName == "week1.pdf" && s.SessionID == sessionID && s.UploadedBy == profUser
	})).Return(nil).Once()

	slide, err := d.slideService(nil).UploadSlide(context.Background(), profUser, sessionID, "../../week1.pdf", bytes.NewReader(validPDF))

	require.NoError(t, err)
	assert.Equal(t, int64(len(validPDF)), slide.SizeBytes)
	d.blobs.AssertExpectations(t)
	d.slides.AssertExpectations(t)
}

func TestUploadSlide_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		actor   uint
		body    []byte
		wantErr error
		wantMsg string
	}{
		{name: "not a pdf", actor: profUser, body: []byte("hello world"), wantMsg: "File is not a PDF"},
		{name: "truncated pdf", actor: profUser, body: []byte("%PDF-1.4\n1 0 obj\n"), wantMsg: "PDF file is truncated or corrupt"},
		{name: "too large", actor: profUser, body: append([]byte("%PDF-"), bytes.Repeat([]byte("x"), 2048)...), wantMsg: "File exceeds the maximum upload size of 1024 bytes"},
		{name: "students cannot upload", actor: studentA, body: validPDF, wantErr: service.ErrInsufficientRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeps().withCourse().withSession(activeSession())

			_, err := d.slideService(nil).UploadSlide(context.Background(), tt.actor, sessionID, "deck.pdf", bytes.NewReader(tt.body))

			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, service.ClientMessage(err, ""))
			}
			d.blobs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
		})
	}
}

func TestUploadSlide_EndedSession(t *testing.T) {
	s := activeSession()
	s.Status = domain.SessionEnded
	d := newDeps().withCourse().withSession(s)

	_, err := d.slideService(nil).UploadSlide(context.Background(), profUser, sessionID, "deck.pdf", strings.NewReader(string(validPDF)))

	assert.ErrorIs(t, err, service.ErrSessionEnded)
}

func TestUploadSlide_CompensatesOnMetadataFailure(t *testing.T) {
	d := newDeps().withCourse().withSession(activeSession())
	d.blobs.On("Put", mock.Anything, validPDF).Return("abc", true, nil).Once()
	d.slides.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	d.slides.On("IsStorageKeyReferenced", mock.Anything, "abc").Return(false, nil).Once()
	d.blobs.On("Delete", mock.Anything, "abc").Return(nil).Once()
	scheduler := &recordingScheduler{}

	_, err := d.slideService(scheduler).UploadSlide(context.Background(), profUser, sessionID, "deck.pdf", bytes.NewReader(validPDF))

	assert.ErrorIs(t, err, service.ErrInternalServer)
	d.blobs.AssertExpectations(t)
	assert.Empty(t, scheduler.keys)
}

func TestUploadSlide_SchedulesCleanupWhenDeleteFails(t *testing.T) {
	// 请求上下文在提交元数据时被取消，补偿仍然要执行
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newDeps().withCourse().withSession(activeSession())
	d.blobs.On("Put", mock.Anything, validPDF).Return("abc", true, nil).Once()
	d.slides.On("Create", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(errors.New("db down")).Once()
	d.slides.On("IsStorageKeyReferenced", mock.Anything, "abc").Return(false, nil).Once()
	d.blobs.On("Delete", mock.Anything, "abc").Return(errors.New("disk busy")).Once()
	scheduler := &recordingScheduler{}

	_, err := d.slideService(scheduler).UploadSlide(ctx, profUser, sessionID, "deck.pdf", bytes.NewReader(validPDF))

	assert.ErrorIs(t, err, service.ErrInternalServer)
	assert.Equal(t, []string{"abc"}, scheduler.keys)
}

func TestUploadSlide_SharedBlobIsNotDeleted(t *testing.T) {
	d := newDeps().withCourse().withSession(activeSession())
	d.blobs.On("Put", mock.Anything, validPDF).Return("abc", false, nil).Once()
	d.slides.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	d.slides.On("IsStorageKeyReferenced", mock.Anything, "abc").Return(true, nil).Once()

	_, err := d.slideService(&recordingScheduler{}).UploadSlide(context.Background(), profUser, sessionID, "deck.pdf", bytes.NewReader(validPDF))

	assert.ErrorIs(t, err, service.ErrInternalServer)
	d.blobs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestUploadSlide_ReferenceCheckFailureSchedulesCleanup(t *testing.T) {
	d := newDeps().withCourse().withSession(activeSession())
	d.blobs.On("Put", mock.Anything, validPDF).Return("abc", true, nil).Once()
	d.slides.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	d.slides.On("IsStorageKeyReferenced", mock.Anything, "abc").Return(false, errors.New("db down")).Once()
	scheduler := &recordingScheduler{}

	_, err := d.slideService(scheduler).UploadSlide(context.Background(), profUser, sessionID, "deck.pdf", bytes.NewReader(validPDF))

	assert.ErrorIs(t, err, service.ErrInternalServer)
	d.blobs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"abc"}, scheduler.keys)
}

// newSharedBlobService 使用真实的本地 blob 存储，相同内容的上传落到同一个文件
func newSharedBlobService(t *testing.T) (*deps, *service.SlideService, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := blob.NewLocalStore(dir)
	require.NoError(t, err)
	d := newDeps().withCourse().withSession(activeSession())
	svc := service.NewSlideService(d.slides, d.sessions, d.enrollments, store, &recordingScheduler{}, 1024, time.Second)
	return d, svc, dir
}

func blobPath(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return filepath.Join(dir, entries[0].Name())
}

func TestUploadSlide_FailedUploadKeepsBlobCommittedByAnother(t *testing.T) {
	d, svc, dir := newSharedBlobService(t)
	ctx := context.Background()

	// 第一次上传提交元数据之前，第二次上传完整地提交了同样的内容
	var second *domain.Slide
	var secondErr error
	d.slides.On("Create", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		second, secondErr = svc.UploadSlide(ctx, profUser, sessionID, "copy.pdf", bytes.NewReader(validPDF))
	}).Return(errors.New("db down")).Once()
	d.slides.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	d.slides.On("IsStorageKeyReferenced", mock.Anything, mock.Anything).Return(true, nil).Once()

	_, err := svc.UploadSlide(ctx, profUser, sessionID, "deck.pdf", bytes.NewReader(validPDF))

	assert.ErrorIs(t, err, service.ErrInternalServer)
	require.NoError(t, secondErr)
	_, statErr := os.Stat(filepath.Join(dir, second.StorageKey))
	assert.NoError(t, statErr, "blob referenced by the committed slide must survive")
}

func TestUploadSlide_FailedUploadKeepsBlobOfUploadInFlight(t *testing.T) {
	d, svc, dir := newSharedBlobService(t)
	ctx := context.Background()

	// 第一次上传已写入 blob 但还未提交时，第二次上传失败并补偿
	var secondErr error
	d.slides.On("Create", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		_, secondErr = svc.UploadSlide(ctx, profUser, sessionID, "copy.pdf", bytes.NewReader(validPDF))
	}).Return(nil).Once()
	d.slides.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	slide, err := svc.UploadSlide(ctx, profUser, sessionID, "deck.pdf", bytes.NewReader(validPDF))

	require.NoError(t, err)
	assert.ErrorIs(t, secondErr, service.ErrInternalServer)
	d.slides.AssertNotCalled(t, "IsStorageKeyReferenced", mock.Anything, mock.Anything)
	assert.Equal(t, filepath.Join(dir, slide.StorageKey), blobPath(t, dir))
}

func TestCleanupBlob(t *testing.T) {
	d := newDeps()
	d.slides.On("IsStorageKeyReferenced", mock.Anything, "used").Return(true, nil)
	d.slides.On("IsStorageKeyReferenced", mock.Anything, "orphan").Return(false, nil)
	d.blobs.On("Delete", mock.Anything, "orphan").Return(nil).Once()
	svc := d.slideService(nil)

	require.NoError(t, svc.CleanupBlob(context.Background(), "used"))
	require.NoError(t, svc.CleanupBlob(context.Background(), "orphan"))
	d.blobs.AssertNumberOfCalls(t, "Delete", 1)
}

func TestCleanupBlob_SkipsBlobOfUploadInFlight(t *testing.T) {
	d, svc, dir := newSharedBlobService(t)
	ctx := context.Background()

	var cleanupErr error
	d.slides.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		slide := args.Get(1).(*domain.Slide)
		cleanupErr = svc.CleanupBlob(ctx, slide.StorageKey)
	}).Return(nil).Once()

	slide, err := svc.UploadSlide(ctx, profUser, sessionID, "deck.pdf", bytes.NewReader(validPDF))

	require.NoError(t, err)
	require.NoError(t, cleanupErr)
	d.slides.AssertNotCalled(t, "IsStorageKeyReferenced", mock.Anything, mock.Anything)
	assert.Equal(t, filepath.Join(dir, slide.StorageKey), blobPath(t, dir))
}

func TestSweepOrphans(t *testing.T) {
	d := newDeps()
	d.blobs.On("ListOlderThan", mock.Anything, time.Hour).Return([]string{"a", "b", "c"}, nil)
	d.slides.On("IsStorageKeyReferenced", mock.Anything, "a").Return(true, nil)
	d.slides.On("IsStorageKeyReferenced", mock.Anything, "b").Return(false, nil)
	d.slides.On("IsStorageKeyReferenced", mock.Anything, "c").Return(false, nil)
	d.blobs.On("Delete", mock.Anything, "b").Return(nil)
	d.blobs.On("Delete", mock.Anything, "c").Return(errors.New("permission denied"))

	removed, err := d.slideService(nil).SweepOrphans(context.Background(), time.Hour)

	assert.Equal(t, 1, removed)
	assert.ErrorContains(t, err, "permission denied")
}
