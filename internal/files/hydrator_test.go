package files

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"designdesk/api/internal/logging"
	"designdesk/api/internal/store"
)

type fakeStatter struct {
	objects map[string]minio.ObjectInfo
	calls   int
}

func (f *fakeStatter) StatObject(_ context.Context, bucket, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.calls++
	info, ok := f.objects[bucket+"/"+key]
	if !ok {
		return minio.ObjectInfo{}, errors.New("no such key")
	}
	return info, nil
}

func TestHydrateFillsMissingSizes(t *testing.T) {
	statter := &fakeStatter{objects: map[string]minio.ObjectInfo{
		"designdesk/tasks/t1/brief.pdf":  {Size: 2048, ContentType: "application/pdf"},
		"designdesk/tasks/t1/logo 1.svg": {Size: 512, ContentType: "image/svg+xml"},
	}}
	h := newHydrator(statter, "designdesk", logging.Discard())

	task := store.Task{ID: "t1", Files: []store.TaskFile{
		{Name: "brief.pdf", ObjectKey: "tasks/t1/brief.pdf"},
		{Name: "logo 1.svg", URL: "http://minio:9000/designdesk/tasks/t1/logo%201.svg"},
		{Name: "known.png", Size: 99, ObjectKey: "tasks/t1/known.png"},
		{Name: "external", URL: "https://drive.example.com/file/abc"},
		{Name: "missing.ai", ObjectKey: "tasks/t1/missing.ai"},
	}}

	out := h.Hydrate(context.Background(), task)
	require.Len(t, out.Files, 5)
	assert.Equal(t, int64(2048), out.Files[0].Size)
	assert.Equal(t, "application/pdf", out.Files[0].ContentType)
	assert.Equal(t, int64(512), out.Files[1].Size)
	assert.Equal(t, int64(99), out.Files[2].Size)
	assert.Zero(t, out.Files[3].Size)
	assert.Zero(t, out.Files[4].Size)

	assert.Zero(t, task.Files[0].Size, "input task is not mutated")
}

func TestHydrateCachesLookups(t *testing.T) {
	statter := &fakeStatter{objects: map[string]minio.ObjectInfo{"b/k": {Size: 1}}}
	h := newHydrator(statter, "b", logging.Discard())
	task := store.Task{Files: []store.TaskFile{{ObjectKey: "k"}}}

	h.Hydrate(context.Background(), task)
	h.Hydrate(context.Background(), task)
	assert.Equal(t, 1, statter.calls)
}

func TestNilHydratorIsNoop(t *testing.T) {
	var h *Hydrator
	task := store.Task{Files: []store.TaskFile{{ObjectKey: "k"}}}
	assert.Equal(t, task, h.Hydrate(context.Background(), task))

	disabled, err := NewHydrator(Config{}, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, disabled)
}
