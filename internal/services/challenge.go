package services

import (
	"math/rand"
	"sync"
	"time"
)

var challengeTargets = []string{"cars", "traffic lights", "crosswalks", "bicycles", "buses"}

const (
	challengeImageCount   = 9
	challengeMaxSelection = 3
	challengeTTL          = 5 * time.Minute
	challengeMaxPending   = 10000
)

// ChallengeVerifier reports whether a selection answers the challenge id.
type ChallengeVerifier func(id string, selected []int) (bool, error)

type Challenge struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	ImageCount int       `json:"image_count"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ChallengeService issues image-selection challenges. Each challenge can be
// verified once; a second attempt with the same id fails.
type ChallengeService struct {
	mu      sync.Mutex
	pending map[string]Challenge
	now     func() time.Time
	idGen   func() string
	pick    func(n int) int
	ttl     time.Duration
	// maxPending bounds unverified challenges held in memory
	maxPending int
}

func NewChallengeService() *ChallengeService {
	return &ChallengeService{
		pending: map[string]Challenge{},
		now:     func() time.Time { return time.Now().UTC() },
		idGen:   func() string { return "c" + shortID(15) },
		pick:    rand.Intn,
		ttl:     challengeTTL,

		maxPending: challengeMaxPending,
	}
}

// Issue registers a new challenge. Once maxPending unexpired challenges are
// outstanding further issuance fails until some are verified or expire.
func (s *ChallengeService) Issue() (Challenge, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		if now.After(p.ExpiresAt) {
			delete(s.pending, id)
		}
	}
	if s.maxPending > 0 && len(s.pending) >= s.maxPending {
		return Challenge{}, NewTooManyRequestsError("too many pending challenges, try again shortly")
	}
	c := Challenge{
		ID:         s.idGen(),
		Target:     challengeTargets[s.pick(len(challengeTargets))],
		ImageCount: challengeImageCount,
		ExpiresAt:  now.Add(s.ttl),
	}
	s.pending[c.ID] = c
	return c, nil
}

// SetMaxPending changes the cap on outstanding challenges; n <= 0 removes it.
func (s *ChallengeService) SetMaxPending(n int) {
	s.mu.Lock()
	s.maxPending = n
	s.mu.Unlock()
}

// Verify consumes the challenge. A selection of one to three distinct images
// passes; unknown or expired ids fail without an error.
func (s *ChallengeService) Verify(id string, selected []int) (bool, error) {
	s.mu.Lock()
	c, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok || s.now().After(c.ExpiresAt) {
		return false, nil
	}
	seen := make(map[int]struct{}, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= c.ImageCount {
			return false, NewInvalidError("image index out of range")
		}
		if _, dup := seen[idx]; dup {
			return false, NewInvalidError("duplicate image index")
		}
		seen[idx] = struct{}{}
	}
	return len(seen) > 0 && len(seen) <= challengeMaxSelection, nil
}

func (s *ChallengeService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
