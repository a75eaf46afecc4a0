package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/clinrecs/clinical-records-api/internal/dto"
	"github.com/clinrecs/clinical-records-api/internal/models"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
	"github.com/clinrecs/clinical-records-api/pkg/export"
)

// SnapshotStore reads the append-only snapshot rows.
type SnapshotStore interface {
	ListByFile(ctx context.Context, fileID string) ([]models.Snapshot, error)
	GetByFileVersion(ctx context.Context, fileID string, version int) (*models.Snapshot, error)
}

// SnapshotRenderer produces the immutable artifact bytes.
type SnapshotRenderer interface {
	Render(doc export.SnapshotDocument) ([]byte, error)
}

// SnapshotBlobStore persists rendered artifacts.
type SnapshotBlobStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

// SnapshotSigner mints and verifies download tokens.
type SnapshotSigner interface {
	Generate(snapshotID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (snapshotID, relPath string, expiresAt time.Time, err error)
}

// SnapshotService renders, stores, and serves the immutable file snapshots
// minted on professional approval. Any failure during rendering or storage
// surfaces as a snapshot error and the approval it belongs to is aborted.
type SnapshotService struct {
	snapshots SnapshotStore
	renderer  SnapshotRenderer
	blobs     SnapshotBlobStore
	signer    SnapshotSigner
	apiPrefix string
	logger    *zap.Logger
}

// NewSnapshotService constructs a snapshot service.
func NewSnapshotService(snapshots SnapshotStore, renderer SnapshotRenderer, blobs SnapshotBlobStore, signer SnapshotSigner, apiPrefix string, logger *zap.Logger) *SnapshotService {
	return &SnapshotService{
		snapshots: snapshots,
		renderer:  renderer,
		blobs:     blobs,
		signer:    signer,
		apiPrefix: apiPrefix,
		logger:    logger,
	}
}

// NextVersion returns the version the next approval will mint. Callers must
// hold the file's workflow lock so the value cannot go stale between the
// read and the approval transaction.
func (s *SnapshotService) NextVersion(ctx context.Context, fileID string) (int, error) {
	snaps, err := s.snapshots.ListByFile(ctx, fileID)
	if err != nil {
		return 0, appErrors.FromError(err)
	}
	if len(snaps) == 0 {
		return 1, nil
	}
	return snaps[len(snaps)-1].Version + 1, nil
}

// Prepare renders the point-in-time document and writes the artifact to blob
// storage. The returned snapshot carries the content reference and digest;
// the caller commits it together with the status flip.
func (s *SnapshotService) Prepare(ctx context.Context, file *models.MedicalFile, patient, student string, sections []models.BackgroundSection, version int) (*models.Snapshot, error) {
	doc := export.SnapshotDocument{
		FileID:      file.ID,
		Version:     version,
		GeneratedAt: time.Now().UTC(),
		Patient:     patient,
		Student:     student,
	}
	for _, section := range sections {
		doc.Sections = append(doc.Sections, export.SnapshotSection{
			Title:   string(section.Section),
			Payload: section.Payload,
		})
	}

	data, err := s.renderer.Render(doc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSnapshot.Code, appErrors.ErrSnapshot.Status, appErrors.ErrSnapshot.Message)
	}

	sum := sha256.Sum256(data)
	ref := fmt.Sprintf("files/%s/v%d.pdf", file.ID, version)
	if _, err := s.blobs.Save(ref, data); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSnapshot.Code, appErrors.ErrSnapshot.Status, appErrors.ErrSnapshot.Message)
	}

	return &models.Snapshot{
		ContentRef:    ref,
		ContentSHA256: hex.EncodeToString(sum[:]),
	}, nil
}

// Discard removes an artifact whose approval did not commit.
func (s *SnapshotService) Discard(snap *models.Snapshot) {
	if snap == nil || snap.ContentRef == "" {
		return
	}
	if err := s.blobs.Delete(snap.ContentRef); err != nil && s.logger != nil {
		s.logger.Warn("discard snapshot artifact", zap.String("content_ref", snap.ContentRef), zap.Error(err))
	}
}

// List returns a file's snapshots, oldest version first.
func (s *SnapshotService) List(ctx context.Context, fileID string) ([]models.Snapshot, error) {
	snaps, err := s.snapshots.ListByFile(ctx, fileID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return snaps, nil
}

// Download mints a short-lived signed link for one snapshot version.
func (s *SnapshotService) Download(ctx context.Context, fileID string, version int) (*dto.SnapshotDownload, error) {
	snap, err := s.snapshots.GetByFileVersion(ctx, fileID, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "snapshot not found")
		}
		return nil, appErrors.FromError(err)
	}

	token, expiresAt, err := s.signer.Generate(snap.ID, snap.ContentRef)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return &dto.SnapshotDownload{
		URL:       fmt.Sprintf("%s/snapshots/content?token=%s", s.apiPrefix, url.QueryEscape(token)),
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// OpenByToken resolves a signed download token to the stored artifact.
func (s *SnapshotService) OpenByToken(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download link")
	}
	file, err := s.blobs.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "snapshot artifact is missing")
	}
	return file, nil
}
