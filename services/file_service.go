package services

import (
	"context"

	"neurospace-backend/internal/logger"
	"neurospace-backend/internal/storage"
	"neurospace-backend/internal/vectorstore"
	"neurospace-backend/models"
)

type vectorDeleter interface {
	Delete(ctx context.Context, filter map[string]any) error
}

type fileMetadata interface {
	ListDocuments(ctx context.Context, userID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, userID, fileID string) (*models.Document, error)
	GetDocument(ctx context.Context, userID, fileKey string) (*models.Document, error)
}

// FileService lists documents and removes them everywhere they live:
// metadata store, vector index, and object store.
type FileService struct {
	meta  fileMetadata
	index vectorDeleter
	store storage.ObjectStore
}

func NewFileService(meta fileMetadata, index vectorDeleter, store storage.ObjectStore) *FileService {
	return &FileService{meta: meta, index: index, store: store}
}

func (fs *FileService) List(ctx context.Context, userID string) ([]models.Document, error) {
	return fs.meta.ListDocuments(ctx, userID)
}

func (fs *FileService) GetByKey(ctx context.Context, userID, fileKey string) (*models.Document, error) {
	return fs.meta.GetDocument(ctx, userID, fileKey)
}

// Delete removes the metadata record first, then the derived data.
// Vector and object cleanup failures are logged but don't resurrect
// the document; a follow-up delete of the same key is harmless.
func (fs *FileService) Delete(ctx context.Context, userID, fileID string) (*models.Document, error) {
	doc, err := fs.meta.DeleteDocument(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	filter := map[string]any{
		vectorstore.MetaUserID:  userID,
		vectorstore.MetaFileKey: doc.FileKey,
	}
	if err := fs.index.Delete(ctx, filter); err != nil {
		logger.Error("Failed to delete vectors for file", "file_key", doc.FileKey, "error", err)
	}

	if err := fs.store.Delete(ctx, doc.FileKey); err != nil {
		logger.Error("Failed to delete stored object", "file_key", doc.FileKey, "error", err)
	}

	return doc, nil
}
