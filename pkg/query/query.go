// Package query builds deterministic query-string fragments for BagelDB
// collection reads.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultPerPage is the page size used when CollectionQuery.PerPage is unset.
const DefaultPerPage = 100

// ErrInvalidQuery is returned when a CollectionQuery violates the caller
// contract (empty collection name, malformed predicate). Nothing is sent
// over the network in that case.
var ErrInvalidQuery = errors.New("invalid collection query")

// Predicate is a single server-side filter condition. When Op is empty the
// two-part field:value form is emitted instead of field:op:value.
type Predicate struct {
	Field string
	Op    string
	Value string
}

// term renders the predicate with its value percent-encoded.
func (p Predicate) term() string {
	if p.Op != "" {
		return p.Field + ":" + p.Op + ":" + url.QueryEscape(p.Value)
	}
	return p.Field + ":" + url.QueryEscape(p.Value)
}

// CollectionQuery describes one collection retrieval. It is a value type:
// construct it per call and never mutate it afterwards.
type CollectionQuery struct {
	// Collection names the remote resource. Required.
	Collection string

	// PerPage is the page size. Zero selects DefaultPerPage.
	PerPage int

	// ProjectOn lists field paths to return per document. Empty means
	// full documents.
	ProjectOn []string

	// Predicates are ANDed server-side filters.
	Predicates []Predicate

	// RawParams are opaque "key=value" entries passed through verbatim.
	RawParams []string

	// Paginate controls whether all pages are fetched. When false only a
	// single request without pagination parameters is issued.
	Paginate bool
}

// New returns a paginated query for collection with the default page size.
func New(collection string) CollectionQuery {
	return CollectionQuery{
		Collection: collection,
		PerPage:    DefaultPerPage,
		Paginate:   true,
	}
}

// EncodeMode selects how predicate terms are laid out in the fragment.
type EncodeMode int

const (
	// ModePerTerm emits one query= parameter per predicate.
	ModePerTerm EncodeMode = iota

	// ModeBatched joins all predicate terms into a single query=
	// parameter, separated by a percent-encoded '+'.
	ModeBatched
)

// Path returns the collection's resource path.
func (q CollectionQuery) Path() string {
	return "/collection/" + q.Collection + "/items"
}

// PerPageOrDefault returns the effective page size.
func (q CollectionQuery) PerPageOrDefault() int {
	if q.PerPage <= 0 {
		return DefaultPerPage
	}
	return q.PerPage
}

// Validate checks the caller contract.
func (q CollectionQuery) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection name is empty", ErrInvalidQuery)
	}
	if q.PerPage < 0 {
		return fmt.Errorf("%w: per-page must be positive (got %d)", ErrInvalidQuery, q.PerPage)
	}
	for i, p := range q.Predicates {
		if p.Field == "" {
			return fmt.Errorf("%w: predicate %d has no field", ErrInvalidQuery, i)
		}
		if p.Value == "" {
			return fmt.Errorf("%w: predicate %d (%s) has no value", ErrInvalidQuery, i, p.Field)
		}
	}
	return nil
}

// Encode returns the query-string fragment for q without pagination
// parameters, including the leading '?' when any fragment is emitted.
// The output is deterministic: raw params first, then projection, then
// predicate terms, in declaration order.
func (q CollectionQuery) Encode(mode EncodeMode) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	symbol := "?"

	for _, param := range q.RawParams {
		b.WriteString(symbol)
		b.WriteString(param)
		symbol = "&"
	}

	if len(q.ProjectOn) > 0 {
		b.WriteString(symbol)
		b.WriteString("projectOn=")
		b.WriteString(strings.Join(q.ProjectOn, ","))
		symbol = "&"
	}

	if len(q.Predicates) > 0 {
		switch mode {
		case ModeBatched:
			terms := make([]string, len(q.Predicates))
			for i, p := range q.Predicates {
				terms[i] = p.term()
			}
			b.WriteString(symbol)
			b.WriteString("query=")
			b.WriteString(strings.Join(terms, "%2B"))
			symbol = "&"
		default:
			for _, p := range q.Predicates {
				b.WriteString(symbol)
				b.WriteString("query=")
				b.WriteString(p.term())
				symbol = "&"
			}
		}
	}

	return b.String(), nil
}

// EncodePage returns the fragment for one page: Encode output plus the
// trailing pagination parameters. Fragments for different pages of the
// same query differ only in the pageNumber value.
func (q CollectionQuery) EncodePage(mode EncodeMode, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("%w: page number must be >= 1 (got %d)", ErrInvalidQuery, page)
	}
	base, err := q.Encode(mode)
	if err != nil {
		return "", err
	}
	symbol := "?"
	if base != "" {
		symbol = "&"
	}
	return fmt.Sprintf("%s%spageNumber=%d&perPage=%d", base, symbol, page, q.PerPageOrDefault()), nil
}
