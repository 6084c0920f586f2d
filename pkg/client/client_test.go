package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bagelstudio/bageldb-go/internal/testutil"
	"github.com/bagelstudio/bageldb-go/pkg/query"
)

// newTestClient creates a client pointed at the mock server with fast
// retry settings.
func newTestClient(t *testing.T, mock *testutil.MockBagel, maxRetries int) *Client {
	t.Helper()

	cfg := DefaultConfig("test-token")
	cfg.BaseURL = mock.URL()
	cfg.MaxRetries = maxRetries
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.RequestTimeout = 5 * time.Second

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("token"),
			expectError: false,
		},
		{
			name:        "missing api token",
			config:      Config{},
			expectError: true,
			errorMsg:    "api token is required",
		},
		{
			name: "zero values filled with defaults",
			config: Config{
				APIToken: "token",
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("Expected client, got nil")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	client, err := New(Config{APIToken: "token"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if client.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, DefaultBaseURL)
	}
	if client.retry.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", client.retry.MaxAttempts)
	}
	if client.retry.Backoff != 1*time.Second {
		t.Errorf("Backoff = %v, want 1s", client.retry.Backoff)
	}
}

func TestDo_SetsAuthHeaders(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	client := newTestClient(t, mock, 1)

	resp, err := client.Get(context.Background(), "/collection/articles/items")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()

	headers := mock.LastRequestHeader
	if got := headers.Get("Authorization"); got != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer test-token")
	}
	if got := headers.Get("Accept-Version"); got != "v1" {
		t.Errorf("Accept-Version = %q, want v1", got)
	}
	if got := headers.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q, want application/json", got)
	}
}

func TestFetchPage_Success(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	items := testutil.Documents(25)
	mock.ServeCollection("articles", items)

	client := newTestClient(t, mock, 1)
	q := query.New("articles")
	q.PerPage = 10

	page2, itemCount, err := client.FetchPage(context.Background(), q, query.ModePerTerm, 2)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}

	if itemCount != 25 {
		t.Errorf("itemCount = %d, want 25", itemCount)
	}
	if len(page2) != 10 {
		t.Errorf("len(items) = %d, want 10", len(page2))
	}
	if string(page2[0]) != string(items[10]) {
		t.Errorf("First page-2 item = %s, want %s", page2[0], items[10])
	}
}

func TestFetchPage_MissingItemCount(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	mock.SetHandler("/collection/articles/items", func(w http.ResponseWriter, r *http.Request) {
		// No item-count header.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"a":1}]`))
	})

	client := newTestClient(t, mock, 1)

	items, itemCount, err := client.FetchPage(context.Background(), query.New("articles"), query.ModePerTerm, 1)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if itemCount != -1 {
		t.Errorf("itemCount = %d, want -1 for missing header", itemCount)
	}
	if len(items) != 1 {
		t.Errorf("len(items) = %d, want 1", len(items))
	}
}

func TestFetchPage_Non200NotRetried(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	mock.SetHandler("/collection/articles/items", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client := newTestClient(t, mock, 5)

	_, _, err := client.FetchPage(context.Background(), query.New("articles"), query.ModePerTerm, 1)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.Class != ErrorClassServer {
		t.Errorf("Class = %q, want %q", apiErr.Class, ErrorClassServer)
	}

	// A non-200 status must not consume retry budget.
	if count := mock.GetRequestCount(); count != 1 {
		t.Errorf("Request count = %d, want 1 (no retries)", count)
	}
}

func TestFetchPage_DecodeErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	mock.SetHandler("/collection/articles/items", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`this is not json`))
	})

	client := newTestClient(t, mock, 5)

	_, _, err := client.FetchPage(context.Background(), query.New("articles"), query.ModePerTerm, 1)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("Expected ErrDecodeFailed, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassDecode {
		t.Errorf("Expected decode-class *APIError, got %v", err)
	}

	if count := mock.GetRequestCount(); count != 1 {
		t.Errorf("Request count = %d, want 1 (decode errors not retried)", count)
	}
}

func TestFetchPage_RetriesTransportErrors(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	items := testutil.Documents(3)
	body, _ := json.Marshal(items)

	// Two dropped connections, then a healthy response.
	mock.DropConnections("/collection/articles/items", 2, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("item-count", "3")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})

	client := newTestClient(t, mock, 5)

	got, itemCount, err := client.FetchPage(context.Background(), query.New("articles"), query.ModePerTerm, 1)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if itemCount != 3 {
		t.Errorf("itemCount = %d, want 3", itemCount)
	}
	if len(got) != 3 {
		t.Errorf("len(items) = %d, want 3", len(got))
	}
	if count := mock.GetRequestCount(); count != 3 {
		t.Errorf("Request count = %d, want 3 (two failures and a success)", count)
	}
}

func TestFetchPage_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	mock.DropConnections("/collection/articles/items", 100, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t, mock, 3)

	_, _, err := client.FetchPage(context.Background(), query.New("articles"), query.ModePerTerm, 1)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if count := mock.GetRequestCount(); count != 3 {
		t.Errorf("Request count = %d, want 3 (retry budget)", count)
	}
}

func TestFetchPage_InvalidQuery(t *testing.T) {
	client, err := New(Config{APIToken: "token"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, _, err = client.FetchPage(context.Background(), query.CollectionQuery{}, query.ModePerTerm, 1)
	if !errors.Is(err, query.ErrInvalidQuery) {
		t.Errorf("Expected ErrInvalidQuery, got %v", err)
	}
}

func TestFetchUnpaged(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	items := testutil.Documents(42)
	mock.ServeCollection("articles", items)

	client := newTestClient(t, mock, 1)
	q := query.New("articles")
	q.Paginate = false

	got, err := client.FetchUnpaged(context.Background(), q)
	if err != nil {
		t.Fatalf("FetchUnpaged failed: %v", err)
	}
	if len(got) != 42 {
		t.Errorf("len(items) = %d, want 42", len(got))
	}
	if count := mock.GetRequestCount(); count != 1 {
		t.Errorf("Request count = %d, want 1", count)
	}
	// The non-paginated path must not send pagination parameters.
	if pages := mock.GetPageRequests(); len(pages) != 0 {
		t.Errorf("Expected no pageNumber parameters, got %v", pages)
	}
}

func TestFetchUnpaged_Non200(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	mock.SetHandler("/collection/articles/items", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})

	client := newTestClient(t, mock, 1)
	q := query.New("articles")
	q.Paginate = false

	_, err := client.FetchUnpaged(context.Background(), q)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.Class != ErrorClassClient {
		t.Errorf("Class = %q, want %q", apiErr.Class, ErrorClassClient)
	}
}

func TestFetchPage_ContextDeadline(t *testing.T) {
	mock := testutil.NewMockBagel()
	defer mock.Close()

	mock.SetHandler("/collection/articles/items", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	})

	client := newTestClient(t, mock, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := client.FetchPage(ctx, query.New("articles"), query.ModePerTerm, 1)
	if err == nil {
		t.Fatal("Expected deadline error, got nil")
	}
}
