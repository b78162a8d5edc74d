// Package store persists explanation records behind a similarity index with
// a deterministic fallback file. Index problems degrade to the fallback;
// fallback problems are fatal.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/engine/vindex"
	"github.com/WessleyAI/wessley-health/pkg/fsx"
)

// Mode selects how a retrieval resolves to a record.
type Mode int

const (
	// PayloadFallback rebuilds a single-entry index on every insert and
	// always answers retrievals from the fallback file.
	PayloadFallback Mode = iota
	// PayloadKeyed grows the index and resolves matches through Records.
	PayloadKeyed
)

func (m Mode) String() string {
	if m == PayloadKeyed {
		return "keyed"
	}
	return "fallback"
}

// ParseMode accepts "fallback" (or "legacy") and "keyed".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fallback", "legacy":
		return PayloadFallback, nil
	case "keyed":
		return PayloadKeyed, nil
	default:
		return 0, fmt.Errorf("store: unknown payload mode %q", s)
	}
}

// Fallback reasons passed to Options.OnFallback.
const (
	ReasonIndexUnavailable = "index_unavailable"
	ReasonQueryFailed      = "query_failed"
	ReasonNoMatch          = "no_match"
	ReasonMatch            = "match"
	ReasonPayloadMissing   = "payload_missing"
)

// Records is a keyed record backend.
type Records interface {
	// Get returns the record for key, or an error matching domain.ErrNotFound.
	Get(ctx context.Context, key string) (domain.ExplanationRecord, error)
	Put(ctx context.Context, rec domain.ExplanationRecord) error
}

// Options configures a Store.
type Options struct {
	Mode         Mode
	FallbackPath string
	Records      Records       // required for PayloadKeyed
	CacheTTL     time.Duration // 0 disables the fallback cache
	Logger       *slog.Logger
	OnFallback   func(reason string)
}

// Store owns the index and the fallback file.
type Store struct {
	mu         sync.Mutex
	index      vindex.Provider
	mode       Mode
	fallback   string
	records    Records
	cache      *gocache.Cache
	logger     *slog.Logger
	onFallback func(string)
}

// New creates a Store.
func New(index vindex.Provider, opts Options) (*Store, error) {
	if index == nil {
		return nil, errors.New("store: index provider is required")
	}
	if opts.FallbackPath == "" {
		return nil, errors.New("store: fallback path is required")
	}
	if opts.Mode == PayloadKeyed && opts.Records == nil {
		return nil, errors.New("store: keyed mode needs a records backend")
	}
	s := &Store{
		index:      index,
		mode:       opts.Mode,
		fallback:   opts.FallbackPath,
		records:    opts.Records,
		logger:     opts.Logger,
		onFallback: opts.OnFallback,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts.CacheTTL > 0 {
		s.cache = gocache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return s, nil
}

// Mode reports the payload mode.
func (s *Store) Mode() Mode { return s.mode }

// Insert indexes entry and persists rec, then rewrites the fallback file.
func (s *Store) Insert(ctx context.Context, entry domain.VectorEntry, rec domain.ExplanationRecord) error {
	if len(entry.Vector) == 0 {
		return domain.NewValidationError("vector", "", domain.ErrRequired)
	}
	key := entry.Key
	if key == "" {
		key = rec.UserID
	}
	if s.mode == PayloadKeyed && key == "" {
		return domain.NewValidationError("user_id", "", domain.ErrRequired)
	}
	if rec.UserID == "" {
		rec.UserID = key
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.writableIndex(ctx, len(entry.Vector))
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	if err := idx.Upsert(ctx, key, entry.Vector); err != nil {
		return fmt.Errorf("store: insert: index: %w", err)
	}
	if err := s.index.Persist(ctx, idx); err != nil {
		return fmt.Errorf("store: insert: persist index: %w", err)
	}

	if s.mode == PayloadKeyed {
		if err := s.records.Put(ctx, rec); err != nil {
			return fmt.Errorf("store: insert: records: %w", err)
		}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("store: insert: encode: %w", err)
	}
	if err := fsx.WriteFile(s.fallback, data, 0o644); err != nil {
		return fmt.Errorf("store: insert: fallback: %w", err)
	}
	s.Invalidate()

	s.logger.Info("explanation stored", "user_id", rec.UserID, "mode", s.mode.String(), "features", len(rec.Features))
	return nil
}

// writableIndex returns the index an insert should write to. Fallback mode
// always starts fresh; keyed mode extends the existing index when it is
// readable and of the right dimension.
func (s *Store) writableIndex(ctx context.Context, dim int) (vindex.Index, error) {
	if s.mode == PayloadKeyed {
		idx, err := s.index.Open(ctx)
		switch {
		case err == nil && idx.Dim() == dim:
			return idx, nil
		case err == nil:
			s.logger.Warn("store: index dimension changed, rebuilding", "have", idx.Dim(), "want", dim)
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.Warn("store: index unreadable, rebuilding", "err", err)
		}
	}
	return s.index.Create(ctx, dim)
}

// Retrieve resolves query to a record. A nil query (or one without a
// vector) probes with the zero vector. Index failures and query vectors of
// the wrong dimension fall through to the fallback file; a missing fallback
// file is ErrNotFound.
func (s *Store) Retrieve(ctx context.Context, query *domain.VectorEntry) (domain.ExplanationRecord, error) {
	if s.mode == PayloadKeyed && query != nil && query.Key != "" {
		if rec, ok := s.lookup(ctx, query.Key); ok {
			return rec, nil
		}
	}

	idx, err := s.index.Open(ctx)
	if err != nil {
		s.logger.Warn("store: index unavailable, using fallback", "err", err)
		return s.readFallback(ReasonIndexUnavailable)
	}

	probe := make([]float32, idx.Dim())
	if query != nil && len(query.Vector) > 0 {
		if err := domain.ValidateVector(query.Vector, idx.Dim()); err != nil {
			s.logger.Warn("store: query vector rejected, using fallback", "err", err)
			return s.readFallback(ReasonQueryFailed)
		}
		probe = query.Vector
	}

	hits, err := idx.Nearest(ctx, probe, 1)
	if err != nil {
		s.logger.Warn("store: index query failed, using fallback", "err", err)
		return s.readFallback(ReasonQueryFailed)
	}
	if len(hits) == 0 {
		return s.readFallback(ReasonNoMatch)
	}
	if s.mode == PayloadKeyed {
		if rec, ok := s.lookup(ctx, hits[0].Key); ok {
			return rec, nil
		}
		return s.readFallback(ReasonPayloadMissing)
	}
	return s.readFallback(ReasonMatch)
}

func (s *Store) lookup(ctx context.Context, key string) (domain.ExplanationRecord, bool) {
	rec, err := s.records.Get(ctx, key)
	if err == nil {
		return rec, true
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("store: records lookup failed", "key", key, "err", err)
	}
	return domain.ExplanationRecord{}, false
}

func (s *Store) readFallback(reason string) (domain.ExplanationRecord, error) {
	if s.onFallback != nil {
		s.onFallback(reason)
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(s.fallback); ok {
			return clone(v.(domain.ExplanationRecord)), nil
		}
	}

	data, err := os.ReadFile(s.fallback)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ExplanationRecord{}, fmt.Errorf("store: fallback %s: %w", s.fallback, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ExplanationRecord{}, fmt.Errorf("store: fallback %s: %w", s.fallback, err)
	}
	var rec domain.ExplanationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ExplanationRecord{}, fmt.Errorf("store: fallback %s: %w", s.fallback, err)
	}

	if s.cache != nil {
		s.cache.SetDefault(s.fallback, clone(rec))
	}
	return rec, nil
}

// Invalidate drops cached fallback content.
func (s *Store) Invalidate() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

func clone(r domain.ExplanationRecord) domain.ExplanationRecord {
	r.Features = append([]domain.FeatureRecord(nil), r.Features...)
	return r
}
