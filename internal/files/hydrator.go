// Package files fills in derived metadata for task attachments stored in
// object storage. Hydration only touches the response copy of a task and is
// never recorded in change history.
package files

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"designdesk/api/internal/store"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type objectStatter interface {
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Hydrator looks up object size and content type for files that lack them.
type Hydrator struct {
	client objectStatter
	bucket string
	log    logrus.FieldLogger

	mu    sync.Mutex
	cache map[string]minio.ObjectInfo
}

// NewHydrator connects to MinIO. It returns nil when no endpoint is set.
func NewHydrator(cfg Config, log logrus.FieldLogger) (*Hydrator, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return newHydrator(client, cfg.Bucket, log), nil
}

func newHydrator(client objectStatter, bucket string, log logrus.FieldLogger) *Hydrator {
	return &Hydrator{
		client: client,
		bucket: bucket,
		log:    log.WithField("component", "files"),
		cache:  make(map[string]minio.ObjectInfo),
	}
}

// Hydrate returns a copy of task with missing file sizes filled in. Lookup
// failures leave the file as it was.
func (h *Hydrator) Hydrate(ctx context.Context, task store.Task) store.Task {
	if h == nil || len(task.Files) == 0 {
		return task
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out := task
	out.Files = append([]store.TaskFile(nil), task.Files...)
	for i, file := range out.Files {
		if file.Size > 0 {
			continue
		}
		key := h.objectKey(file)
		if key == "" {
			continue
		}
		info, err := h.stat(ctx, key)
		if err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{"task_id": task.ID, "object": key}).Debug("stat object")
			continue
		}
		out.Files[i].Size = info.Size
		if out.Files[i].ContentType == "" {
			out.Files[i].ContentType = info.ContentType
		}
	}
	return out
}

func (h *Hydrator) stat(ctx context.Context, key string) (minio.ObjectInfo, error) {
	h.mu.Lock()
	info, ok := h.cache[key]
	h.mu.Unlock()
	if ok {
		return info, nil
	}
	info, err := h.client.StatObject(ctx, h.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	h.mu.Lock()
	h.cache[key] = info
	h.mu.Unlock()
	return info, nil
}

// objectKey prefers the stored key, else derives it from a path-style URL
// pointing into the bucket.
func (h *Hydrator) objectKey(file store.TaskFile) string {
	if key := strings.TrimPrefix(file.ObjectKey, "/"); key != "" {
		return key
	}
	parsed, err := url.Parse(file.URL)
	if err != nil || parsed.Path == "" {
		return ""
	}
	prefix := "/" + h.bucket + "/"
	if !strings.HasPrefix(parsed.Path, prefix) {
		return ""
	}
	key, err := url.PathUnescape(strings.TrimPrefix(parsed.Path, prefix))
	if err != nil {
		return ""
	}
	return key
}
