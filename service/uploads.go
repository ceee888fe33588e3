package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rt-heroku/contract-analysis-sub001/config"
	"github.com/rt-heroku/contract-analysis-sub001/model"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/apperr"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/logger"
)

// Accepted MIME types per upload kind. Contracts must be PDF; data files
// are a small enumerated set of tabular formats.
const MimePDF = "application/pdf"

var dataMimeTypes = map[string]bool{
	"text/csv":                 true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// UploadRegistry records immutable upload metadata and persists the bytes
// to the blob store. Validation happens before the blob write so a rejected
// file leaves no side effects behind.
type UploadRegistry struct {
	mu         sync.RWMutex
	uploads    map[string]*model.Upload
	blobs      BlobStore
	perms      *PermissionStore
	limits     *config.UploadsConfig
	maxUploads int // 0 = unlimited
}

func NewUploadRegistry(blobs BlobStore, perms *PermissionStore, limits *config.UploadsConfig, storeCfg *config.StoreConfig) *UploadRegistry {
	maxUploads := 0
	if storeCfg != nil && storeCfg.MaxUploads > 0 {
		maxUploads = storeCfg.MaxUploads
	}
	return &UploadRegistry{
		uploads:    make(map[string]*model.Upload),
		blobs:      blobs,
		perms:      perms,
		limits:     limits,
		maxUploads: maxUploads,
	}
}

// Create validates and ingests one upload. An empty correlationKey starts a
// new pair; a supplied one attaches the upload to an existing pending pair.
func (r *UploadRegistry) Create(ctx context.Context, ownerID, kind string, reader io.Reader, size int64, filename, mimeType, correlationKey string) (*model.Upload, error) {
	if err := r.perms.Require(ownerID, model.PermDocumentsUpload); err != nil {
		return nil, err
	}
	if err := r.validate(kind, size, mimeType); err != nil {
		return nil, err
	}

	if correlationKey == "" {
		correlationKey = uuid.New().String()
	} else if err := r.checkPairSlot(correlationKey, kind, ownerID); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	objectName := fmt.Sprintf("%s/%s/%s/%s", ownerID, correlationKey, kind, filename)

	if err := r.blobs.UploadFile(ctx, objectName, reader, size, mimeType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	upload := &model.Upload{
		ID:             id,
		CorrelationKey: correlationKey,
		Kind:           kind,
		Filename:       filename,
		ByteSize:       size,
		MimeType:       mimeType,
		ObjectName:     objectName,
		OwnerID:        ownerID,
		CreatedAt:      time.Now(),
	}

	r.mu.Lock()
	r.uploads[id] = upload
	r.cleanupIfNeeded()
	r.mu.Unlock()

	logger.Info(ctx, "upload created",
		"upload_id", id,
		"correlation_key", correlationKey,
		"kind", kind,
		"byte_size", size,
	)
	return upload, nil
}

func (r *UploadRegistry) validate(kind string, size int64, mimeType string) error {
	switch kind {
	case model.KindContract:
		if mimeType != MimePDF {
			return apperr.Validation("contract uploads must be application/pdf")
		}
		if size > r.limits.MaxContractBytes {
			return apperr.Validation(fmt.Sprintf("contract file exceeds %d bytes", r.limits.MaxContractBytes))
		}
	case model.KindData:
		if !dataMimeTypes[mimeType] {
			return apperr.Validation("unsupported data file type")
		}
		if size > r.limits.MaxDataBytes {
			return apperr.Validation(fmt.Sprintf("data file exceeds %d bytes", r.limits.MaxDataBytes))
		}
	default:
		return apperr.Validation("kind must be contract or data")
	}
	if size <= 0 {
		return apperr.Validation("empty file")
	}
	return nil
}

// checkPairSlot rejects attaching to a key that is unknown, owned by
// someone else, or that already holds an upload of this kind.
func (r *UploadRegistry) checkPairSlot(correlationKey, kind, ownerID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found := false
	for _, u := range r.uploads {
		if u.CorrelationKey != correlationKey {
			continue
		}
		if u.OwnerID != ownerID {
			return apperr.NotFound("correlation key not found")
		}
		found = true
		if u.Kind == kind {
			return apperr.Conflict(fmt.Sprintf("pair already has a %s upload", kind))
		}
	}
	if !found {
		return apperr.NotFound("correlation key not found")
	}
	return nil
}

// Get returns the upload, or nil when absent.
func (r *UploadRegistry) Get(id string) *model.Upload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uploads[id]
}

// GetByOwner lists an owner's uploads, newest first.
func (r *UploadRegistry) GetByOwner(ownerID string) []*model.Upload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.Upload
	for _, u := range r.uploads {
		if u.OwnerID == ownerID {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// Pair groups the uploads sharing a correlation key.
func (r *UploadRegistry) Pair(correlationKey string) *model.UploadPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pair := &model.UploadPair{CorrelationKey: correlationKey}
	for _, u := range r.uploads {
		if u.CorrelationKey != correlationKey {
			continue
		}
		switch u.Kind {
		case model.KindContract:
			pair.Contract = u
		case model.KindData:
			pair.Data = u
		}
	}
	return pair
}

// PresignedURL returns a time-limited download URL for the upload's bytes.
func (r *UploadRegistry) PresignedURL(ctx context.Context, upload *model.Upload) (string, error) {
	return r.blobs.GetPresignedURL(ctx, upload.ObjectName)
}

// Delete removes the upload and its blob. Allowed for the owner or a
// holder of documents.delete.
func (r *UploadRegistry) Delete(ctx context.Context, id, requesterID string) error {
	r.mu.RLock()
	upload := r.uploads[id]
	r.mu.RUnlock()

	if upload == nil {
		return apperr.NotFound("upload not found")
	}
	if upload.OwnerID != requesterID && !r.perms.Authorize(requesterID, model.PermDocumentsDelete) {
		return apperr.PermissionDenied("not allowed to delete this upload")
	}

	if err := r.blobs.DeleteFile(ctx, upload.ObjectName); err != nil {
		logger.Warn(ctx, "failed to delete upload blob", "upload_id", id, "error", err)
	}

	r.mu.Lock()
	delete(r.uploads, id)
	r.mu.Unlock()

	logger.Info(ctx, "upload deleted", "upload_id", id, "requester_id", requesterID)
	return nil
}

// cleanupIfNeeded removes oldest uploads if the store exceeds maxUploads.
// Must be called with lock held.
func (r *UploadRegistry) cleanupIfNeeded() {
	if r.maxUploads <= 0 {
		return // Unlimited
	}
	if len(r.uploads) <= r.maxUploads {
		return
	}

	uploads := make([]*model.Upload, 0, len(r.uploads))
	for _, u := range r.uploads {
		uploads = append(uploads, u)
	}
	sort.Slice(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.Before(uploads[j].CreatedAt)
	})

	removeCount := len(uploads) - r.maxUploads
	for i := 0; i < removeCount; i++ {
		delete(r.uploads, uploads[i].ID)
	}
}

// Count returns the number of uploads in the registry.
func (r *UploadRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.uploads)
}
