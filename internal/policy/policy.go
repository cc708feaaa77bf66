package policy

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dbsmedya/goadaptive/internal/config"
	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/record"
	"github.com/dbsmedya/goadaptive/internal/sqlutil"
	"github.com/dbsmedya/goadaptive/internal/stats"
)

// reservedColumn is the relational table's own primary key.
const reservedColumn = "id"

// Policy turns field summaries into placement decisions. It remembers the
// previous decision per field and applies two thresholds so a field whose
// frequency hovers near one cutoff does not flap between backends.
type Policy struct {
	lower    float64
	upper    float64
	joinKeys record.JoinKeys
	judge    IdentifierJudge
	fallback *LocalJudge
	log      *logger.Logger

	mu       sync.Mutex
	previous Decisions
}

// New creates a Policy. A nil judge uses the local identifier rule.
func New(cfg config.PolicyConfig, judge IdentifierJudge, log *logger.Logger) *Policy {
	if log == nil {
		log = logger.NewDefault()
	}
	local := NewLocalJudge(cfg.ConfidenceCount, cfg.UniqueRatio)
	if judge == nil {
		judge = local
	}
	return &Policy{
		lower:    cfg.LowerThreshold,
		upper:    cfg.UpperThreshold,
		joinKeys: record.JoinKeys(cfg.JoinKeys),
		judge:    judge,
		fallback: local,
		log:      log,
		previous: make(Decisions),
	}
}

// Classify decides a placement for every summarized field and merges the
// result into the policy's memory.
func (p *Policy) Classify(ctx context.Context, summaries map[string]stats.Summary) Decisions {
	p.mu.Lock()
	defer p.mu.Unlock()

	fields := make([]string, 0, len(summaries))
	for f := range summaries {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make(Decisions, len(summaries))
	for _, field := range fields {
		out[field] = p.decide(ctx, field, summaries[field])
	}

	for field, d := range out {
		p.previous[field] = d
	}
	return out
}

func (p *Policy) decide(ctx context.Context, field string, s stats.Summary) Decision {
	switch {
	case p.joinKeys.Contains(field):
		return Decision{Target: Both, RelationalType: RelationalType(s.DetectedType)}
	case !ColumnSafe(field):
		return Decision{Target: Document}
	case s.IsNested:
		return Decision{Target: Document}
	case s.DetectedType == record.TypeNull:
		return Decision{Target: Document}
	case !s.Stable:
		return Decision{Target: Document}
	}

	threshold := p.upper
	if prev, ok := p.previous[field]; ok && prev.IsRelational() {
		threshold = p.lower
	}
	if s.FrequencyRatio < threshold {
		return Decision{Target: Document}
	}

	return Decision{
		Target:            Relational,
		RelationalType:    RelationalType(s.DetectedType),
		EnforceUniqueness: p.isIdentifier(ctx, field, s),
	}
}

func (p *Policy) isIdentifier(ctx context.Context, field string, s stats.Summary) bool {
	ok, err := p.judge.Judge(ctx, field, s)
	if err != nil {
		p.log.WithField(field).Warnf("identifier judge failed, using local rule: %v", err)
		ok, _ = p.fallback.Judge(ctx, field, s)
	}
	return ok
}

// ColumnSafe reports whether field can become a relational column. Names the
// table cannot hold, and the table's own primary key, stay in documents.
func ColumnSafe(field string) bool {
	return sqlutil.IsValidIdentifier(field) && !strings.EqualFold(field, reservedColumn)
}

// Export returns a copy of the decision memory.
func (p *Policy) Export() Decisions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previous.Clone()
}

// Restore replaces the decision memory with a copy of d.
func (p *Policy) Restore(d Decisions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.previous = d.Clone()
}
