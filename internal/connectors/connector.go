// Package connectors implements the uniform fetch contract for each data provider
// and the bounded executor that runs plan steps against them.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Connector fetches data for one plan step. Implementations must be safe for concurrent
// use, must honor ctx, and return an empty Output (not an error) when nothing was found.
type Connector interface {
	ID() types.ConnectorID
	Fetch(ctx context.Context, step types.PlanStep) (*Output, error)
}

// Output is the normalized payload of a successful fetch
type Output struct {
	Records  []types.Record
	Snippets []types.Snippet
	Usage    *types.Usage
}

// ErrorKind classifies genuine fetch failures
type ErrorKind string

// Error kinds
const (
	KindAuth      ErrorKind = "auth"
	KindNetwork   ErrorKind = "network"
	KindRateLimit ErrorKind = "rate_limit"
	KindDecode    ErrorKind = "decode"
	KindStatus    ErrorKind = "status"
)

// Error is a connector failure surfaced as status=error
type Error struct {
	Connector types.ConnectorID
	Kind      ErrorKind
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s error: %s: %v", e.Connector, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s error: %s", e.Connector, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// wrapError classifies a transport error for a connector.
func wrapError(id types.ConnectorID, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	kind := KindNetwork
	switch code := fetch.StatusCode(err); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusPaymentRequired:
		kind = KindAuth
	case code == http.StatusTooManyRequests:
		kind = KindRateLimit
	case code != 0:
		kind = KindStatus
	}
	var fe *fetch.Error
	if errors.As(err, &fe) && strings.Contains(fe.Message, "decode") {
		kind = KindDecode
	}
	return &Error{Connector: id, Kind: kind, Message: message, Cause: err}
}

// isNoData reports whether a response status means "nothing found" for lookups:
// 404 and client errors other than auth and rate limiting.
func isNoData(err error) bool {
	code := fetch.StatusCode(err)
	if code < 400 || code >= 500 {
		return false
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPaymentRequired, http.StatusTooManyRequests:
		return false
	}
	return true
}

// Registry maps connector ids to implementations
type Registry struct {
	connectors map[types.ConnectorID]Connector
}

// NewRegistry creates a registry holding the given connectors
func NewRegistry(cs ...Connector) *Registry {
	r := &Registry{connectors: make(map[types.ConnectorID]Connector, len(cs))}
	for _, c := range cs {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a connector
func (r *Registry) Register(c Connector) {
	r.connectors[c.ID()] = c
}

// Get returns the connector for id
func (r *Registry) Get(id types.ConnectorID) (Connector, bool) {
	c, ok := r.connectors[id]
	return c, ok
}

// IDs returns the registered connector ids in sorted order
func (r *Registry) IDs() []types.ConnectorID {
	ids := make([]types.ConnectorID, 0, len(r.connectors))
	for id := range r.connectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// stamp attaches provider and fetch time to every record and snippet that lacks them.
// Snippets with no text are dropped and record evidence indices are remapped.
func stamp(out *Output, provider string, fetchedAt time.Time) {
	remap := make(map[int]int, len(out.Snippets))
	kept := make([]types.Snippet, 0, len(out.Snippets))
	for i, sn := range out.Snippets {
		if strings.TrimSpace(sn.Text) == "" {
			continue
		}
		if sn.Provider == "" {
			sn.Provider = provider
		}
		if sn.FetchedAt.IsZero() {
			sn.FetchedAt = fetchedAt
		}
		remap[i] = len(kept)
		kept = append(kept, sn)
	}
	out.Snippets = kept

	for i := range out.Records {
		rec := &out.Records[i]
		if rec.Provider == "" {
			rec.Provider = provider
		}
		if rec.FetchedAt.IsZero() {
			rec.FetchedAt = fetchedAt
		}
		var evidence []int
		for _, idx := range rec.Evidence {
			if n, ok := remap[idx]; ok {
				evidence = append(evidence, n)
			}
		}
		rec.Evidence = evidence
	}
}

// parseDate accepts the date layouts providers return and yields nil when unparseable.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "2006-01", "2006"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func truncate(s string, n int) string {
	return types.TruncateUTF8(s, n)
}
