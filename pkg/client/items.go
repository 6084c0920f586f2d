package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bagelstudio/bageldb-go/pkg/query"
)

// itemPath builds the resource path for one item of a collection.
func itemPath(collection, itemID string) string {
	return "/collection/" + collection + "/items/" + itemID
}

// validateRef checks the collection/item identifiers before anything is
// sent over the network.
func validateRef(collection, itemID string) error {
	if collection == "" {
		return fmt.Errorf("%w: collection name is empty", query.ErrInvalidQuery)
	}
	if itemID == "" {
		return fmt.Errorf("%w: item id is empty", query.ErrInvalidQuery)
	}
	return nil
}

// roundTrip performs one request and returns the raw response body.
// Non-2xx statuses surface as *APIError with the body as message.
func (c *Client) roundTrip(ctx context.Context, method, pathAndQuery string, body []byte, contentType string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Endpoint:   req.URL.Path,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	return json.RawMessage(raw), nil
}

// CreateItem creates item in the named collection. Dates inside the
// document must be ISO-8601 strings.
func (c *Client) CreateItem(ctx context.Context, collection string, item any) (json.RawMessage, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: collection name is empty", query.ErrInvalidQuery)
	}
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return c.roundTrip(ctx, http.MethodPost, "/collection/"+collection+"/items", body, "application/json")
}

// GetItem retrieves a single item by ID.
func (c *Client) GetItem(ctx context.Context, collection, itemID string) (json.RawMessage, error) {
	if err := validateRef(collection, itemID); err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, http.MethodGet, itemPath(collection, itemID), nil, "")
}

// UpdateItem replaces the item's fields with those of item.
func (c *Client) UpdateItem(ctx context.Context, collection, itemID string, item any) (json.RawMessage, error) {
	if err := validateRef(collection, itemID); err != nil {
		return nil, err
	}
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return c.roundTrip(ctx, http.MethodPut, itemPath(collection, itemID), body, "application/json")
}

// DeleteItem deletes an item by ID.
func (c *Client) DeleteItem(ctx context.Context, collection, itemID string) (json.RawMessage, error) {
	if err := validateRef(collection, itemID); err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, http.MethodDelete, itemPath(collection, itemID), nil, "")
}

// CreateNestedItem writes item into the named nested collection of an
// existing item.
func (c *Client) CreateNestedItem(ctx context.Context, collection, itemID, nestedCollection string, item any) (json.RawMessage, error) {
	if err := validateRef(collection, itemID); err != nil {
		return nil, err
	}
	if nestedCollection == "" {
		return nil, fmt.Errorf("%w: nested collection name is empty", query.ErrInvalidQuery)
	}
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	path := itemPath(collection, itemID) + "?nestedID=" + nestedCollection
	return c.roundTrip(ctx, http.MethodPost, path, body, "application/json")
}

// UpdateNestedItem updates one item of a nested collection.
func (c *Client) UpdateNestedItem(ctx context.Context, collection, itemID, nestedCollection, nestedItemID string, item any) (json.RawMessage, error) {
	if err := validateRef(collection, itemID); err != nil {
		return nil, err
	}
	if err := validateRef(nestedCollection, nestedItemID); err != nil {
		return nil, err
	}
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	path := itemPath(collection, itemID) + "?nestedID=" + nestedCollection + "." + nestedItemID
	return c.roundTrip(ctx, http.MethodPut, path, body, "application/json")
}

// DeleteNestedItem deletes one item of a nested collection.
func (c *Client) DeleteNestedItem(ctx context.Context, collection, itemID, nestedCollection, nestedItemID string) (json.RawMessage, error) {
	if err := validateRef(collection, itemID); err != nil {
		return nil, err
	}
	if err := validateRef(nestedCollection, nestedItemID); err != nil {
		return nil, err
	}
	path := itemPath(collection, itemID) + "?nestedID=" + nestedCollection + "." + nestedItemID
	return c.roundTrip(ctx, http.MethodDelete, path, nil, "")
}

// AttachImage attaches the image behind imageURL to an existing item under
// the given slug.
func (c *Client) AttachImage(ctx context.Context, collection, itemID, imageSlug, imageURL string) (json.RawMessage, error) {
	if err := validateRef(collection, itemID); err != nil {
		return nil, err
	}
	if imageSlug == "" {
		return nil, fmt.Errorf("%w: image slug is empty", query.ErrInvalidQuery)
	}

	path := itemPath(collection, itemID) + "/image?imageSlug=" + url.QueryEscape(imageSlug)
	form := url.Values{"imageLink": {imageURL}}
	return c.roundTrip(ctx, http.MethodPut, path, []byte(form.Encode()), "application/x-www-form-urlencoded")
}
