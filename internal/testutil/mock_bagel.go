// Package testutil provides testing utilities for the BagelDB client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// MockBagel is a configurable mock BagelDB server for testing.
type MockBagel struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount      int
	PageRequests      map[int]int
	LastRequestHeader http.Header
}

// NewMockBagel creates a new mock BagelDB server.
func NewMockBagel() *MockBagel {
	mock := &MockBagel{
		handlers:     make(map[string]http.HandlerFunc),
		PageRequests: make(map[int]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if page, err := strconv.Atoi(r.URL.Query().Get("pageNumber")); err == nil {
			mock.PageRequests[page]++
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockBagel) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBagel) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockBagel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PageRequests = make(map[int]int)
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockBagel) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockBagel) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPageRequests returns how many times each pageNumber was requested.
func (m *MockBagel) GetPageRequests() map[int]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pages := make(map[int]int, len(m.PageRequests))
	for page, count := range m.PageRequests {
		pages[page] = count
	}
	return pages
}

// ServeCollection installs a paginated handler for a collection backed by
// items. It honors pageNumber/perPage query parameters and sets the
// item-count header on every response, like the real API.
func (m *MockBagel) ServeCollection(collection string, items []json.RawMessage) {
	m.SetHandler("/collection/"+collection+"/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("item-count", strconv.Itoa(len(items)))

		pageParam := r.URL.Query().Get("pageNumber")
		if pageParam == "" {
			// Non-paginated read returns the first default-sized page.
			writeItems(w, sliceItems(items, 1, 100))
			return
		}

		page, err := strconv.Atoi(pageParam)
		if err != nil || page < 1 {
			http.Error(w, "bad pageNumber", http.StatusBadRequest)
			return
		}
		perPage, err := strconv.Atoi(r.URL.Query().Get("perPage"))
		if err != nil || perPage < 1 {
			perPage = 100
		}

		writeItems(w, sliceItems(items, page, perPage))
	})
}

// FailPage makes one page of a collection respond with the given status
// while all other pages are served from items.
func (m *MockBagel) FailPage(collection string, failPage, status int, items []json.RawMessage) {
	m.SetHandler("/collection/"+collection+"/items", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
		if page == failPage {
			http.Error(w, fmt.Sprintf("page %d unavailable", page), status)
			return
		}

		perPage, err := strconv.Atoi(r.URL.Query().Get("perPage"))
		if err != nil || perPage < 1 {
			perPage = 100
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("item-count", strconv.Itoa(len(items)))
		writeItems(w, sliceItems(items, page, perPage))
	})
}

// DropConnections makes the first n requests to a path fail at the
// transport level by hijacking and closing the connection. Subsequent
// requests fall through to next.
func (m *MockBagel) DropConnections(path string, n int, next http.HandlerFunc) {
	var mu sync.Mutex
	dropped := 0

	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		shouldDrop := dropped < n
		if shouldDrop {
			dropped++
		}
		mu.Unlock()

		if shouldDrop {
			hj, ok := w.(http.Hijacker)
			if !ok {
				panic("testutil: response writer does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				panic(err)
			}
			conn.Close()
			return
		}

		next(w, r)
	})
}

// Documents generates n distinct JSON documents with sequential ids.
func Documents(n int) []json.RawMessage {
	items := make([]json.RawMessage, n)
	for i := range items {
		items[i] = json.RawMessage(fmt.Sprintf(`{"_id":"item-%04d","n":%d}`, i, i))
	}
	return items
}

// sliceItems returns the 1-based page of items for the given page size.
func sliceItems(items []json.RawMessage, page, perPage int) []json.RawMessage {
	start := (page - 1) * perPage
	if start >= len(items) {
		return nil
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func writeItems(w http.ResponseWriter, items []json.RawMessage) {
	if items == nil {
		items = []json.RawMessage{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
