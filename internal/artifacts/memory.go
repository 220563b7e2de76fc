package artifacts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/shared/utils/id"
)

// MemoryStore is the in-process chat.ArtifactStore used when no database is
// configured.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]chat.Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]chat.Artifact)}
}

func (s *MemoryStore) Save(_ context.Context, artifact *chat.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if artifact.ID == "" {
		artifact.ID = id.NewArtifactID()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	artifact.UpdatedAt = time.Now()
	s.m[artifact.ID] = *artifact
	return nil
}

func (s *MemoryStore) Get(_ context.Context, artifactID string) (*chat.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.m[artifactID]
	if !ok {
		return nil, chat.ErrArtifactNotFound
	}
	return &artifact, nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionID string) ([]chat.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chat.Artifact
	for _, artifact := range s.m {
		if artifact.SessionID == sessionID {
			out = append(out, artifact)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
