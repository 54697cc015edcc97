package delivery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
)

// DefaultMaxEntries bounds the memory store when unconfigured.
const DefaultMaxEntries = 256

// Eviction reasons reported to the eviction hook.
const (
	EvictExpired  = "expired"
	EvictCapacity = "capacity"
)

// Artifact is a stored download. Entries are immutable after insertion.
type Artifact struct {
	ID        string
	FileName  string
	Content   []byte
	MimeType  string
	Owner     string
	CreatedAt time.Time
	ExpiresAt time.Time

	seq uint64
}

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// PublicBaseURL prefixes download links, e.g. "https://gw.example.com".
	PublicBaseURL string
	DefaultTTL    time.Duration
	MaxTTL        time.Duration
	MaxEntries    int
	MaxSize       int64

	// EnforceOwner makes Get require the artifact owner's subject.
	EnforceOwner bool
}

// MemoryStore keeps artifacts in process memory and serves them through
// the gateway's /download endpoint. Expired entries are swept on every
// Put and dropped lazily on Get.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Artifact
	seq     uint64

	cfg     MemoryConfig
	limits  limits
	logger  *slog.Logger
	nowFunc func() time.Time
	onEvict func(reason string)
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock replaces the store's clock.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.nowFunc = now }
}

// WithEvictionHook is called (under the store lock) for every eviction.
func WithEvictionHook(fn func(reason string)) MemoryOption {
	return func(s *MemoryStore) { s.onEvict = fn }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(cfg MemoryConfig, logger *slog.Logger, opts ...MemoryOption) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	if logger == nil {
		logger = slog.Default()
	}

	s := &MemoryStore{
		entries: make(map[string]*Artifact),
		cfg:     cfg,
		limits:  limits{defaultTTL: cfg.DefaultTTL, maxTTL: cfg.MaxTTL, maxSize: cfg.MaxSize}.withDefaults(0),
		logger:  logger,
		nowFunc: time.Now,
		onEvict: func(string) {},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// EnforcesOwner reports whether Get checks ownership.
func (s *MemoryStore) EnforcesOwner() bool {
	return s.cfg.EnforceOwner
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, req PutRequest) (*Handle, error) {
	req, err := s.limits.check(req)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()

	a := &Artifact{
		ID:        uuid.NewString(),
		FileName:  req.FileName,
		Content:   req.Content,
		MimeType:  req.MimeType,
		Owner:     req.Owner,
		CreatedAt: now,
		ExpiresAt: now.Add(req.TTL),
	}

	s.mu.Lock()
	s.sweepLocked(now)

	for len(s.entries) >= s.cfg.MaxEntries {
		s.evictOldestLocked()
	}

	s.seq++
	a.seq = s.seq
	s.entries[a.ID] = a
	resident := len(s.entries)
	s.mu.Unlock()

	s.logger.Debug("artifact stored",
		slog.String("id", a.ID),
		slog.Int("size", len(a.Content)),
		slog.Time("expires_at", a.ExpiresAt),
		slog.Int("resident", resident),
	)

	return &Handle{
		ID:        a.ID,
		URL:       s.cfg.PublicBaseURL + "/download/" + a.ID,
		FileName:  a.FileName,
		MimeType:  a.MimeType,
		Size:      len(a.Content),
		ExpiresAt: a.ExpiresAt,
	}, nil
}

// Get returns the artifact for id. Unknown and expired IDs are NotFound;
// with owner enforcement an anonymous caller is Unauthorized and a
// different subject is Forbidden.
func (s *MemoryStore) Get(id, subject string) (*Artifact, error) {
	now := s.nowFunc()

	s.mu.Lock()
	a, ok := s.entries[id]

	if ok && !now.Before(a.ExpiresAt) {
		delete(s.entries, id)
		s.onEvict(EvictExpired)

		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, apperr.NotFound("artifact_not_found", "download not found or expired", nil)
	}

	if s.cfg.EnforceOwner && a.Owner != "" {
		if subject == "" {
			return nil, apperr.Unauthorized("missing_token", "download requires authentication", nil)
		}

		if subject != a.Owner {
			return nil, apperr.Forbidden("not_owner", "download belongs to another user", nil)
		}
	}

	return a, nil
}

// Len returns the number of resident entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for id, a := range s.entries {
		if !now.Before(a.ExpiresAt) {
			delete(s.entries, id)
			s.onEvict(EvictExpired)
		}
	}
}

func (s *MemoryStore) evictOldestLocked() {
	var oldest *Artifact

	for _, a := range s.entries {
		if oldest == nil || a.CreatedAt.Before(oldest.CreatedAt) ||
			(a.CreatedAt.Equal(oldest.CreatedAt) && a.seq < oldest.seq) {
			oldest = a
		}
	}

	if oldest == nil {
		return
	}

	delete(s.entries, oldest.ID)
	s.onEvict(EvictCapacity)

	s.logger.Info("artifact evicted at capacity",
		slog.String("id", oldest.ID),
		slog.Int("max_entries", s.cfg.MaxEntries),
	)
}
