package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	content string
	exists  bool
	readErr error
	written []byte
	pubErr  error
}

func (f *fakeRemote) Read(ctx context.Context) (string, string, bool, error) {
	return f.content, "sha-1", f.exists, f.readErr
}

func (f *fakeRemote) Publish(ctx context.Context, content []byte) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.written = content
	f.content = string(content)
	f.exists = true
	return nil
}

func TestStore_LastAbsent(t *testing.T) {
	s := New(&fakeRemote{})
	_, ok, err := s.Last(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_LastTrimsWhitespace(t *testing.T) {
	s := New(&fakeRemote{content: "sha256:abc123\n", exists: true})
	ref, ok, err := s.Last(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sha256:abc123", ref)
}

func TestStore_LastBlankFileTreatedAsAbsent(t *testing.T) {
	s := New(&fakeRemote{content: "\n", exists: true})
	_, ok, err := s.Last(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetLastRoundTrip(t *testing.T) {
	remote := &fakeRemote{}
	s := New(remote)
	ctx := context.Background()

	require.NoError(t, s.SetLast(ctx, "https://cdn.example/a.png"))
	assert.Equal(t, "https://cdn.example/a.png\n", string(remote.written))

	ref, ok, err := s.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/a.png", ref)
}

func TestStore_ErrorsWrapped(t *testing.T) {
	boom := errors.New("boom")

	s := New(&fakeRemote{readErr: boom})
	_, _, err := s.Last(context.Background())
	assert.ErrorIs(t, err, boom)

	s = New(&fakeRemote{pubErr: boom})
	assert.ErrorIs(t, s.SetLast(context.Background(), "x"), boom)
}
