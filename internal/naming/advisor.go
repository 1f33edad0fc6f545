// Package naming picks a filename for a composed PDF. A remote suggester is
// consulted when available; every failure degrades to a deterministic name.
package naming

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/spherical/fotopdf/internal/cache"
	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/observability"
)

// Source records where a suggestion came from.
type Source string

const (
	SourceDefault  Source = "default"
	SourceAI       Source = "ai"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// ErrUnavailable is recorded when no suggester is configured.
var ErrUnavailable = errors.New("filename suggestions are not configured")

const cacheNamespace = "filename"

// Suggestion is the advisor's answer. Err holds the reason a fallback was
// used and is informational only.
type Suggestion struct {
	Filename string `json:"filename"`
	Source   Source `json:"source"`
	Err      error  `json:"-"`
}

// Config tunes the advisor.
type Config struct {
	Timeout  time.Duration
	Cache    cache.Client
	CacheTTL time.Duration
	Now      func() time.Time
}

// Advisor suggests filenames.
type Advisor struct {
	suggester domain.FilenameSuggester
	cache     cache.Client
	cacheTTL  time.Duration
	timeout   time.Duration
	now       func() time.Time
	logger    *observability.Logger
}

// NewAdvisor creates an advisor. suggester may be nil, in which case every
// non-empty request falls back.
func NewAdvisor(suggester domain.FilenameSuggester, cfg Config, logger *observability.Logger) *Advisor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Advisor{
		suggester: suggester,
		cache:     cfg.Cache,
		cacheTTL:  cfg.CacheTTL,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
		logger:    logger.WithComponent("naming"),
	}
}

// Suggest returns a filename for a document built from the named images.
// It never fails.
func (a *Advisor) Suggest(ctx context.Context, descriptions []string) Suggestion {
	if len(descriptions) == 0 {
		return Suggestion{Filename: DefaultFilename(a.now()), Source: SourceDefault}
	}

	if a.suggester == nil {
		return a.fallback(descriptions, ErrUnavailable)
	}

	key := cache.HashKey(cacheNamespace, descriptions)
	if name := a.cached(ctx, key); name != "" {
		return Suggestion{Filename: name, Source: SourceCache}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	raw, err := a.suggester.SuggestFilename(callCtx, descriptions)
	if err != nil {
		return a.fallback(descriptions, err)
	}
	name := NormalizeFilename(raw)
	if name == "" {
		return a.fallback(descriptions, domain.APIError("suggestion is empty after normalisation", nil))
	}

	a.logger.Info().
		Int("descriptions", len(descriptions)).
		Dur("latency", time.Since(start)).
		Str("filename", name).
		Msg("Filename suggested")

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, []byte(name), a.cacheTTL); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to cache filename suggestion")
		}
	}

	return Suggestion{Filename: name, Source: SourceAI}
}

func (a *Advisor) cached(ctx context.Context, key string) string {
	if a.cache == nil {
		return ""
	}
	val, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			a.logger.Warn().Err(err).Msg("Filename cache lookup failed")
		}
		return ""
	}
	return NormalizeFilename(string(val))
}

func (a *Advisor) fallback(descriptions []string, cause error) Suggestion {
	name := FallbackFilename(descriptions)
	if !errors.Is(cause, ErrUnavailable) {
		a.logger.Warn().
			Err(cause).
			Str("filename", name).
			Msg("Filename suggestion failed, using fallback")
	}
	return Suggestion{Filename: name, Source: SourceFallback, Err: cause}
}

// DefaultFilename is the name used when there is nothing to describe.
func DefaultFilename(t time.Time) string {
	return "fotopdf-export-" + t.UTC().Format("2006-01-02") + ".pdf"
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// FallbackFilename derives a name from the first description: the part
// before its first '.', with every non-alphanumeric character replaced by
// '-', or "export" when that part is empty.
func FallbackFilename(descriptions []string) string {
	stem := ""
	if len(descriptions) > 0 {
		stem, _, _ = strings.Cut(descriptions[0], ".")
	}
	if stem == "" {
		stem = "export"
	}
	return unsafeChars.ReplaceAllString(stem, "-") + ".pdf"
}

// NormalizeFilename cleans a suggested name: surrounding whitespace and
// quotes are trimmed, path separators become '-', leading dots and dashes
// are dropped and the extension is set to ".pdf". It returns "" when nothing
// usable remains.
func NormalizeFilename(name string) string {
	s := strings.TrimSpace(name)
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSpace(s)

	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '-'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)

	stem := s
	if strings.HasSuffix(strings.ToLower(stem), ".pdf") {
		stem = stem[:len(stem)-len(".pdf")]
	}
	stem = strings.TrimLeft(stem, ".- ")
	if strings.Trim(stem, "-. ") == "" {
		return ""
	}
	return stem + ".pdf"
}
