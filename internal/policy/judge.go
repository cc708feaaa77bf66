package policy

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/record"
	"github.com/dbsmedya/goadaptive/internal/stats"
)

// IdentifierJudge decides whether a relational field should carry a
// uniqueness constraint.
type IdentifierJudge interface {
	Judge(ctx context.Context, field string, s stats.Summary) (bool, error)
}

var (
	identifierTokens  = map[string]bool{"id": true, "uuid": true, "guid": true, "email": true, "username": true, "login": true}
	identifierMarkers = []string{"uuid", "guid", "email", "username", "user_name"}
	tokenSplit        = regexp.MustCompile(`[^a-z0-9]+`)
)

// LooksLikeIdentifier reports whether a field name carries an identifier marker.
func LooksLikeIdentifier(field string) bool {
	name := strings.ToLower(field)
	for _, m := range identifierMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	for _, tok := range tokenSplit.Split(name, -1) {
		if identifierTokens[tok] {
			return true
		}
	}
	return false
}

// LocalJudge is the deterministic identifier rule. A field is an identifier
// only when it is stable text, has at least MinCount occurrences, a unique
// ratio of at least MinUniqueRatio, and an identifier-like name.
type LocalJudge struct {
	MinCount       int64
	MinUniqueRatio float64
}

// NewLocalJudge returns a LocalJudge with the given gates.
func NewLocalJudge(minCount int, minUniqueRatio float64) *LocalJudge {
	return &LocalJudge{MinCount: int64(minCount), MinUniqueRatio: minUniqueRatio}
}

// Judge never returns an error.
func (j *LocalJudge) Judge(_ context.Context, field string, s stats.Summary) (bool, error) {
	return j.statisticallyUnique(s) && LooksLikeIdentifier(field), nil
}

func (j *LocalJudge) statisticallyUnique(s stats.Summary) bool {
	return s.Stable &&
		s.DetectedType == record.TypeText &&
		s.OccurrenceCount >= j.MinCount &&
		s.UniqueRatio >= j.MinUniqueRatio
}

// Advisor answers "is this field an identifier" from an external service.
type Advisor interface {
	IsIdentifier(ctx context.Context, field string, s stats.Summary) (bool, error)
}

// AdvisoryJudge asks an Advisor about fields that already pass the local
// statistical gates, so the advisor can veto or confirm the naming signal
// but never mark a numeric or small-sample field unique. Answers are cached
// per field for the life of the process. Any advisor error falls back to the
// local rule and is not cached.
type AdvisoryJudge struct {
	local   *LocalJudge
	advisor Advisor
	log     *logger.Logger

	mu    sync.Mutex
	cache map[string]bool
}

// NewAdvisoryJudge wraps advisor with the local rule as fallback.
func NewAdvisoryJudge(local *LocalJudge, advisor Advisor, log *logger.Logger) *AdvisoryJudge {
	if log == nil {
		log = logger.NewDefault()
	}
	return &AdvisoryJudge{
		local:   local,
		advisor: advisor,
		log:     log,
		cache:   make(map[string]bool),
	}
}

// Judge implements IdentifierJudge.
func (j *AdvisoryJudge) Judge(ctx context.Context, field string, s stats.Summary) (bool, error) {
	if !j.local.statisticallyUnique(s) {
		return false, nil
	}

	j.mu.Lock()
	answer, cached := j.cache[field]
	j.mu.Unlock()
	if cached {
		return answer, nil
	}

	answer, err := j.advisor.IsIdentifier(ctx, field, s)
	if err != nil {
		j.log.WithField(field).Warnf("identifier advisor failed, using local rule: %v", err)
		return j.local.Judge(ctx, field, s)
	}

	j.mu.Lock()
	j.cache[field] = answer
	j.mu.Unlock()
	return answer, nil
}
