// File: dispatch/router_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/coro"
	"github.com/momentics/hioload-uring/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingResumer struct {
	handles []coro.Handle
	resumes []coro.Resume
}

func (r *recordingResumer) Resume(h coro.Handle, res coro.Resume) (coro.Step, error) {
	r.handles = append(r.handles, h)
	r.resumes = append(r.resumes, res)
	return coro.Step{Handle: h, Reason: coro.AwaitingIoUring}, nil
}

func newRouter(t *testing.T, other dispatch.NonCoroutineHandler) (*dispatch.Router, [api.NumListenerKinds]*recordingResumer) {
	t.Helper()
	var recs [api.NumListenerKinds]*recordingResumer
	var ms [api.NumListenerKinds]coro.Resumer
	for i := range recs {
		recs[i] = &recordingResumer{}
		ms[i] = recs[i]
	}
	r, err := dispatch.New(ms, other)
	require.NoError(t, err)
	return r, recs
}

func TestRouter_RoutesByManagerIndex(t *testing.T) {
	r, recs := newRouter(t, nil)
	h := coro.Handle{Manager: uint8(api.ListenerTCP6), Slot: 4, Generation: 2}

	step, err := r.Dispatch(api.Completion{Tag: h.Tag(), Result: 17, Flags: 1})
	require.NoError(t, err)
	assert.Equal(t, h, step.Handle)

	require.Len(t, recs[api.ListenerTCP6].handles, 1)
	assert.Empty(t, recs[api.ListenerTCP4].handles)
	assert.Empty(t, recs[api.ListenerUnix].handles)
	got := recs[api.ListenerTCP6].resumes[0]
	assert.Equal(t, coro.Resume{Result: 17, Flags: 1, Kind: coro.ResumeCompletion}, got)
}

func TestRouter_Redrive(t *testing.T) {
	r, recs := newRouter(t, nil)
	h := coro.Handle{Manager: uint8(api.ListenerUnix), Slot: 1}
	_, err := r.Redrive(h)
	require.NoError(t, err)
	require.Len(t, recs[api.ListenerUnix].resumes, 1)
	assert.Equal(t, coro.ResumeRedrive, recs[api.ListenerUnix].resumes[0].Kind)
}

func TestRouter_NonCoroutineTags(t *testing.T) {
	var seen []uint64
	boom := errors.New("boom")
	r, recs := newRouter(t, func(tag uint64, result int32) error {
		seen = append(seen, tag)
		if result < 0 {
			return boom
		}
		return nil
	})

	step, err := r.Dispatch(api.Completion{Tag: coro.AdminTag(1), Result: 0})
	require.NoError(t, err)
	assert.Equal(t, coro.Step{}, step)

	_, err = r.Dispatch(api.Completion{Tag: coro.AdminTag(2), Result: -1})
	var he *dispatch.HandlerError
	require.ErrorAs(t, err, &he)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, coro.AdminTag(2), he.Tag)

	assert.Equal(t, []uint64{coro.AdminTag(1), coro.AdminTag(2)}, seen)
	for _, rec := range recs {
		assert.Empty(t, rec.handles)
	}
}

func TestRouter_UnknownManagerIsDefect(t *testing.T) {
	r, _ := newRouter(t, nil)
	h := coro.Handle{Manager: uint8(api.NumListenerKinds)}
	assert.Panics(t, func() { _, _ = r.Dispatch(api.Completion{Tag: h.Tag()}) })
}

func TestNew_RejectsNilManager(t *testing.T) {
	_, err := dispatch.New([api.NumListenerKinds]coro.Resumer{}, nil)
	require.Error(t, err)
}
