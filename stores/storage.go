package stores

import (
	"context"
	"fmt"
	"os"

	"docsync-server/core"
	"docsync-server/stores/aws"
	"docsync-server/stores/filesystem"
	"docsync-server/stores/memory"
	"docsync-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Backend pairs the version ledger with the directory used for
// authorization. Backends without a directory of their own use an
// in-memory one.
type Backend struct {
	Snapshots core.SnapshotStore
	Directory core.DirectoryStore
	close     func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// GetStore builds the backend selected by STORAGE_TYPE.
func GetStore(ctx context.Context) (*Backend, error) {
	storageType := os.Getenv("STORAGE_TYPE")
	storageField := logrus.Fields{
		"storageType": storageType,
	}

	var backend *Backend
	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		store, err := filesystem.NewStore(basePath)
		if err != nil {
			return nil, err
		}
		backend = &Backend{Snapshots: store, Directory: memory.NewStore()}
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "docsync.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store, err := sqlite.NewStore(dataSourceName)
		if err != nil {
			return nil, err
		}
		backend = &Backend{Snapshots: store, Directory: store, close: store.Close}
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store, err := aws.NewStore(ctx, bucketName)
		if err != nil {
			return nil, err
		}
		backend = &Backend{Snapshots: store, Directory: memory.NewStore()}
	case "", "memory":
		store := memory.NewStore()
		backend = &Backend{Snapshots: store, Directory: store}
		storageField["storageType"] = "in-memory"
	default:
		return nil, fmt.Errorf("unknown STORAGE_TYPE %q", storageType)
	}

	logrus.WithFields(storageField).Info("Use storage")
	return backend, nil
}
