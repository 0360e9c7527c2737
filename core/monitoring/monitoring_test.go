package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingMonitor struct {
	panics  []any
	errs    []error
	tags    []map[string]string
	flushed time.Duration
}

func (r *recordingMonitor) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recordingMonitor) CapturePanic(v any)    { r.panics = append(r.panics, v) }
func (r *recordingMonitor) Flush(d time.Duration) { r.flushed = d }

func TestCaptureRoutesToInstalledMonitor(t *testing.T) {
	rec := &recordingMonitor{}
	Init(rec)
	t.Cleanup(func() { Init(nil) })

	boom := errors.New("boom")
	CaptureException(boom, map[string]string{"component": "dispatch"})
	CaptureException(nil, nil)
	Flush(time.Second)

	assert.Equal(t, []error{boom}, rec.errs)
	assert.Equal(t, "dispatch", rec.tags[0]["component"])
	assert.Equal(t, time.Second, rec.flushed)
}

func TestInitNilRestoresNop(t *testing.T) {
	Init(nil)
	assert.IsType(t, NopMonitor{}, get())
	assert.NotPanics(t, func() { CaptureException(errors.New("x"), nil) })
}

func TestRecoverReportsAndRepanics(t *testing.T) {
	rec := &recordingMonitor{}
	Init(rec)
	t.Cleanup(func() { Init(nil) })

	assert.PanicsWithValue(t, "worker died", func() {
		defer Recover()
		panic("worker died")
	})
	assert.Equal(t, []any{"worker died"}, rec.panics)
	assert.Equal(t, 2*time.Second, rec.flushed)
}
