package monitoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMonitor struct {
	mu   sync.Mutex
	errs []error
	tags []map[string]string
}

func (r *recordingMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recordingMonitor) Recover()            {}
func (r *recordingMonitor) Flush(time.Duration) {}

func TestCapture(t *testing.T) {
	rec := &recordingMonitor{}
	Init(rec)
	t.Cleanup(func() { Init(nil) })

	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), map[string]string{"job": "grid"})
	CapturePanic("bad tick", nil)
	CapturePanic(nil, nil)

	require.Len(t, rec.errs, 2)
	assert.EqualError(t, rec.errs[0], "boom")
	assert.Equal(t, "grid", rec.tags[0]["job"])
	assert.EqualError(t, rec.errs[1], "panic: bad tick")
}

func TestInitNilRestoresNop(t *testing.T) {
	Init(nil)
	assert.IsType(t, NopMonitor{}, get())
}
