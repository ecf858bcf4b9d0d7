package pipeline

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeCloseRemovesEverythingOnce(t *testing.T) {
	work := t.TempDir()
	s, err := NewScope(work)
	require.NoError(t, err)
	require.DirExists(t, s.Dir)
	assert.Len(t, s.ID, 26)

	inside := filepath.Join(s.Dir, "audio.mp3")
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o644))
	outside := filepath.Join(work, "stray.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	s.Track(inside)
	s.Track(outside)
	s.Track(filepath.Join(work, "never-created"))

	var order []int
	s.OnClose(func() error { order = append(order, 1); return nil })
	s.OnClose(func() error { order = append(order, 2); return errors.New("hook failed") })

	err = s.Close()
	assert.ErrorContains(t, err, "hook failed")
	assert.Equal(t, []int{2, 1}, order)
	assert.NoDirExists(t, s.Dir)
	assert.NoFileExists(t, outside)
	assert.True(t, s.Closed())

	assert.NoError(t, s.Close())
	assert.Equal(t, []int{2, 1}, order, "hooks must run once")
}

func TestScopeTrackAfterCloseRemovesImmediately(t *testing.T) {
	work := t.TempDir()
	s, err := NewScope(work)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	late := filepath.Join(work, "late.txt")
	require.NoError(t, os.WriteFile(late, []byte("x"), 0o644))
	s.Track(late)
	assert.NoFileExists(t, late)
}

func TestScopesAreDistinct(t *testing.T) {
	work := t.TempDir()
	a, err := NewScope(work)
	require.NoError(t, err)
	b, err := NewScope(work)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()
	assert.NotEqual(t, a.Dir, b.Dir)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "duration_exceeded", KindDurationExceeded.String())
	assert.Equal(t, "kind(99)", Kind(99).String())

	b, err := json.Marshal(map[string]Kind{"kind": KindRateLimited})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"rate_limited"}`, string(b))

	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	wrapped := &Error{Kind: KindNoText, Msg: "x", Err: os.ErrNotExist}
	assert.Equal(t, KindNoText, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, os.ErrNotExist)
}

func TestFailure(t *testing.T) {
	res := Failure(Request{UserID: 3, URL: "u"}, KindRateLimited, "slow down", nil)
	assert.False(t, res.OK())
	assert.Equal(t, KindRateLimited, KindOf(res.Err))
	assert.Equal(t, StateFailed, res.State)
}
