package auth

import (
	"sync"
	"time"
)

// Challenge is one outstanding digest challenge, keyed by call-id in the
// table. Answer is the response the server expects back.
type Challenge struct {
	Nonce     string
	Answer    string
	CreatedAt time.Time
}

// ChallengeTable holds pending challenges with a TTL. It is safe for
// concurrent use by the request workers and the cleanup task.
type ChallengeTable struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	ttl        time.Duration
}

// DefaultChallengeTTL bounds how long a 401 challenge stays answerable.
const DefaultChallengeTTL = 5 * time.Minute

func NewChallengeTable(ttl time.Duration) *ChallengeTable {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeTable{
		challenges: make(map[string]*Challenge),
		ttl:        ttl,
	}
}

// Create issues a challenge for callID: the server picks a nonce and
// precomputes the answer it expects from the stored credential.
func (t *ChallengeTable) Create(callID, username, password, realm, method string) *Challenge {
	nonce := GenerateNonce()
	ch := &Challenge{
		Nonce:     nonce,
		Answer:    Compute(username, password, realm, method, nonce),
		CreatedAt: time.Now(),
	}
	t.mu.Lock()
	t.challenges[callID] = ch
	t.mu.Unlock()
	return ch
}

// Get returns the live challenge for callID, or nil if none exists or it
// has expired.
func (t *ChallengeTable) Get(callID string) *Challenge {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.challenges[callID]
	if !ok {
		return nil
	}
	if time.Since(ch.CreatedAt) > t.ttl {
		delete(t.challenges, callID)
		return nil
	}
	return ch
}

// Verify checks a claimant's credentials against the challenge recorded for
// callID. It recomputes the response from the stored password and accepts
// only when the nonce matches the issued one and both responses agree.
func (t *ChallengeTable) Verify(callID string, creds *Credentials, password, realm, method string) bool {
	ch := t.Get(callID)
	if ch == nil || creds == nil {
		return false
	}
	if creds.Nonce != ch.Nonce {
		return false
	}
	expected := Compute(creds.Username, password, realm, method, ch.Nonce)
	return expected == creds.Response && expected == ch.Answer
}

// Drop forgets the challenge for callID.
func (t *ChallengeTable) Drop(callID string) {
	t.mu.Lock()
	delete(t.challenges, callID)
	t.mu.Unlock()
}

// Sweep evicts expired challenges and returns how many were dropped.
func (t *ChallengeTable) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for id, ch := range t.challenges {
		if time.Since(ch.CreatedAt) > t.ttl {
			delete(t.challenges, id)
			dropped++
		}
	}
	return dropped
}
