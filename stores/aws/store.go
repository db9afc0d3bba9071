package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"docsync-server/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "snapshots"

// API is the subset of the S3 client the store needs.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store keeps one object per version under
// snapshots/<documentID>/<version, zero padded>-<ulid>. Zero padding makes
// the bucket's lexical listing order match version order.
type Store struct {
	client API
	bucket string

	mu sync.Mutex
}

// NewStore loads the default AWS config chain and targets bucketName.
func NewStore(ctx context.Context, bucketName string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewStoreWithClient(s3.NewFromConfig(cfg), bucketName), nil
}

func NewStoreWithClient(client API, bucketName string) *Store {
	return &Store{client: client, bucket: bucketName}
}

type object struct {
	version int64
	id      ulid.ULID
	key     string
	size    int64
}

func documentPrefix(documentID string) (string, error) {
	if documentID == "" || strings.Contains(documentID, "/") || documentID == "." || documentID == ".." {
		return "", fmt.Errorf("%w: invalid document id %q", core.ErrValidation, documentID)
	}
	return path.Join(keyPrefix, documentID) + "/", nil
}

func versionKey(prefix string, version int64, id ulid.ULID) string {
	return fmt.Sprintf("%s%012d-%s", prefix, version, id)
}

// objects lists the document's versions, oldest first.
func (s *Store) objects(ctx context.Context, documentID string) ([]object, error) {
	prefix, err := documentPrefix(documentID)
	if err != nil {
		return nil, err
	}

	var list []object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list versions of %s: %w", documentID, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			o, ok := parseKey(prefix, key)
			if !ok {
				logrus.WithField("key", key).Warn("Skipping unrecognized snapshot object")
				continue
			}
			o.size = aws.ToInt64(obj.Size)
			list = append(list, o)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].version < list[j].version })
	return list, nil
}

func parseKey(prefix, key string) (object, bool) {
	num, id, ok := strings.Cut(strings.TrimPrefix(key, prefix), "-")
	if !ok {
		return object{}, false
	}
	version, err := strconv.ParseInt(num, 10, 64)
	if err != nil || version < 1 {
		return object{}, false
	}
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return object{}, false
	}
	return object{version: version, id: parsed, key: key}, true
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Store) FetchLatestSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	list, err := s.objects(ctx, documentID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return s.read(ctx, list[len(list)-1].key)
}

// AppendSnapshot assigns latest+1. The mutex only covers this process; two
// servers sharing a bucket would need a conditional put.
func (s *Store) AppendSnapshot(ctx context.Context, documentID string, data []byte) (*core.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix, err := documentPrefix(documentID)
	if err != nil {
		return nil, err
	}
	list, err := s.objects(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var next int64 = 1
	if len(list) > 0 {
		next = list[len(list)-1].version + 1
	}

	id := ulid.Make()
	key := versionKey(prefix, next, id)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"key":         key,
		"version":     next,
	}).Debug("Snapshot appended")
	return &core.Version{
		ID:         id.String(),
		DocumentID: documentID,
		Version:    next,
		Size:       len(data),
		CreatedAt:  ulid.Time(id.Time()).UTC(),
	}, nil
}

func (s *Store) ListVersions(ctx context.Context, documentID string) ([]core.Version, error) {
	list, err := s.objects(ctx, documentID)
	if err != nil {
		return nil, err
	}
	versions := make([]core.Version, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		o := list[i]
		versions = append(versions, core.Version{
			ID:         o.id.String(),
			DocumentID: documentID,
			Version:    o.version,
			Size:       int(o.size),
			CreatedAt:  ulid.Time(o.id.Time()).UTC(),
		})
	}
	return versions, nil
}

func (s *Store) GetVersion(ctx context.Context, documentID string, version int64) (*core.Version, error) {
	list, err := s.objects(ctx, documentID)
	if err != nil {
		return nil, err
	}
	for _, o := range list {
		if o.version != version {
			continue
		}
		data, err := s.read(ctx, o.key)
		if err != nil {
			return nil, err
		}
		return &core.Version{
			ID:         o.id.String(),
			DocumentID: documentID,
			Version:    o.version,
			Size:       len(data),
			CreatedAt:  ulid.Time(o.id.Time()).UTC(),
			Data:       data,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s@%d", core.ErrVersionNotFound, documentID, version)
}
