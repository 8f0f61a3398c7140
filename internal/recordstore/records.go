package recordstore

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"curator/internal/workitem"
)

// API is the record store surface the engines depend on. *Client implements
// it against the live store; tests substitute an in-memory fake.
type API interface {
	FindByStatus(ctx context.Context, status workitem.Status, typ workitem.Type) ([]*workitem.Item, error)
	FindActionable(ctx context.Context) ([]*workitem.Item, error)
	Get(ctx context.Context, id string) (*workitem.Item, error)
	Update(ctx context.Context, item *workitem.Item) error
	Children(ctx context.Context, parentID string) ([]*workitem.Item, error)
}

type recordsResponse struct {
	Records []*workitem.Item `json:"records"`
	Total   int              `json:"total"`
}

type recordResponse struct {
	Record *workitem.Item `json:"record"`
}

// FindByStatus returns every item at the given status, optionally filtered by
// type. Pages through the store's bounded result windows.
func (c *Client) FindByStatus(ctx context.Context, status workitem.Status, typ workitem.Type) ([]*workitem.Item, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", string(status))
	}
	if typ != "" {
		query.Set("type", string(typ))
	}
	return c.findPaged(ctx, query)
}

// FindActionable returns every non-terminal, non-paused item in one logical
// scan. This is the poll engine's cycle query.
func (c *Client) FindActionable(ctx context.Context) ([]*workitem.Item, error) {
	query := url.Values{}
	query.Set("actionable", "true")
	items, err := c.findPaged(ctx, query)
	if err != nil {
		return nil, err
	}
	// The store's actionable filter predates the paused status; re-filter so
	// review items and unrecognized statuses never reach a dispatcher.
	filtered := items[:0]
	for _, item := range items {
		if workitem.Actionable(item.Status) {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// Children returns every item whose parent_id references the given parent.
func (c *Client) Children(ctx context.Context, parentID string) ([]*workitem.Item, error) {
	query := url.Values{}
	query.Set("parent_id", parentID)
	return c.findPaged(ctx, query)
}

func (c *Client) findPaged(ctx context.Context, query url.Values) ([]*workitem.Item, error) {
	var all []*workitem.Item
	offset := 0
	for {
		page := url.Values{}
		for k, vs := range query {
			page[k] = vs
		}
		page.Set("limit", strconv.Itoa(c.pageSize))
		page.Set("offset", strconv.Itoa(offset))

		var resp recordsResponse
		if err := c.do(ctx, http.MethodGet, "/api/records", page, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Records...)
		if len(resp.Records) < c.pageSize {
			return all, nil
		}
		offset += len(resp.Records)
	}
}

// Get fetches a single item by id.
func (c *Client) Get(ctx context.Context, id string) (*workitem.Item, error) {
	var resp recordResponse
	if err := c.do(ctx, http.MethodGet, "/api/records/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

type updateRequest struct {
	Status workitem.Status `json:"status"`
	Fields workitem.Fields `json:"fields"`
}

// Update overwrites the item's status and full field set. Full-field
// overwrites keep every call idempotent and safe to retry.
func (c *Client) Update(ctx context.Context, item *workitem.Item) error {
	body := updateRequest{Status: item.Status, Fields: item.Fields}
	return c.do(ctx, http.MethodPut, "/api/records/"+url.PathEscape(item.ID), nil, body, nil)
}
