package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested page does not exist.
var ErrNotFound = errors.New("page not found")

// ErrRateLimited is wrapped by the APIError returned once the single
// rate-limit retry has been spent.
var ErrRateLimited = errors.New("rate limited")

// Store defines the operations the sync job needs from the workspace API.
type Store interface {
	// Query runs one page of a filtered, sorted query against a database.
	Query(ctx context.Context, databaseID string, req QueryRequest) (*QueryResult, error)

	// CreatePage creates a page under a database with the given properties.
	CreatePage(ctx context.Context, databaseID string, props Properties) (*Page, error)

	// UpdatePage patches a page's properties and/or its archived flag.
	// Listed properties are replaced as a whole.
	UpdatePage(ctx context.Context, pageID string, req UpdateRequest) (*Page, error)
}

// Page is a single database record.
type Page struct {
	ID         string     `json:"id"`
	Archived   bool       `json:"archived"`
	URL        string     `json:"url,omitempty"`
	Properties Properties `json:"properties"`
}

// QueryRequest is a database query. An empty StartCursor starts from the beginning.
type QueryRequest struct {
	Filter      *Filter `json:"filter,omitempty"`
	Sorts       []Sort  `json:"sorts,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
}

// QueryResult is one page of query results.
type QueryResult struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// UpdateRequest patches a page. A nil Archived leaves the flag untouched.
type UpdateRequest struct {
	Properties Properties `json:"properties,omitempty"`
	Archived   *bool      `json:"archived,omitempty"`
}

// ArchiveRequest returns an UpdateRequest that only toggles the archived flag.
func ArchiveRequest(archived bool) UpdateRequest {
	return UpdateRequest{Archived: &archived}
}

// QueryAll drains every page of a query, calling fn for each record in order.
// Iteration stops at the first error returned by fn.
func QueryAll(ctx context.Context, st Store, databaseID string, req QueryRequest, fn func(Page) error) error {
	req.StartCursor = ""
	for {
		res, err := st.Query(ctx, databaseID, req)
		if err != nil {
			return err
		}
		for i := range res.Results {
			if err := fn(res.Results[i]); err != nil {
				return err
			}
		}
		if !res.HasMore || res.NextCursor == "" {
			return nil
		}
		if res.NextCursor == req.StartCursor {
			return fmt.Errorf("query %s: cursor did not advance", databaseID)
		}
		req.StartCursor = res.NextCursor
	}
}

// QueryFirst returns the first record matching the query, or ErrNotFound.
func QueryFirst(ctx context.Context, st Store, databaseID string, req QueryRequest) (*Page, error) {
	req.StartCursor = ""
	req.PageSize = 1
	res, err := st.Query(ctx, databaseID, req)
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return nil, ErrNotFound
	}
	p := res.Results[0]
	return &p, nil
}
