package network

import (
	lru "github.com/hashicorp/golang-lru"
)

// Seen remembers the ids of recently handled envelopes so gossip is
// processed and forwarded once.
type Seen struct {
	cache *lru.Cache
}

// NewSeen constructs a Seen holding up to size ids.
func NewSeen(size int) (*Seen, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &Seen{cache: cache}, nil
}

// Mark records the id and reports true the first time it is marked.
func (s *Seen) Mark(id string) bool {
	if id == "" {
		return true
	}

	exists, _ := s.cache.ContainsOrAdd(id, struct{}{})
	return !exists
}
