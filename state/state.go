// Package state persists the last-published avatar reference as a
// small text file in the version-controlled file store, reusing the
// store's update-with-token semantics.
package state

import (
	"context"
	"fmt"
	"strings"
)

// Remote is the file-store capability the record lives behind. A
// *target.GitHubStore satisfies it.
type Remote interface {
	Read(ctx context.Context) (content, sha string, exists bool, err error)
	Publish(ctx context.Context, content []byte) error
}

// Store reads and writes the AvatarRecord.
type Store struct {
	remote Remote
}

func New(remote Remote) *Store {
	return &Store{remote: remote}
}

// Last returns the previously published reference, or ok=false when
// no record exists yet (first run).
func (s *Store) Last(ctx context.Context) (string, bool, error) {
	content, _, exists, err := s.remote.Read(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to read avatar record: %w", err)
	}
	if !exists {
		return "", false, nil
	}
	ref := strings.TrimSpace(content)
	if ref == "" {
		return "", false, nil
	}
	return ref, true, nil
}

// SetLast overwrites the record with ref.
func (s *Store) SetLast(ctx context.Context, ref string) error {
	if err := s.remote.Publish(ctx, []byte(ref+"\n")); err != nil {
		return fmt.Errorf("failed to write avatar record: %w", err)
	}
	return nil
}
