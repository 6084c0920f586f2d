// Package pagination implements bulk retrieval of paginated BagelDB
// collections.
//
// BagelDB exposes collection reads in fixed-size pages and reports the
// total matching item count in the item-count response header. This
// package probes page 1 for the total page count, then fetches the
// remaining pages either strictly in order (FetchSequential) or in
// parallel under a bounded in-flight limit (FetchAll).
//
// Example usage:
//
//	retriever := pagination.NewRetriever(bagelClient, pagination.DefaultConfig())
//	items, err := retriever.FetchAll(ctx, query.New("articles"))
//
// The retriever:
//   - Fetches page 1 to determine the total page count
//   - Dispatches the remaining pages under a bounded worker limit (default 10)
//   - Writes each page into a preallocated per-page slot
//   - Merges slots in page-number order, so the result is stable pagination
//     order regardless of completion order
//   - Reports progress once per settled page
//
// FetchAll fails the whole call on any page failure and cancels in-flight
// fetches; FetchSequential instead returns the pages fetched so far
// together with the page error.
package pagination
