package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Mock operation names recorded in Calls.
const (
	OpQuery  = "query"
	OpCreate = "create"
	OpUpdate = "update"
)

// Call records one operation issued against a MockStore.
type Call struct {
	Op         string
	DatabaseID string
	PageID     string
	Filter     *Filter
	Sorts      []Sort
	Properties Properties
	Archived   *bool
}

// MockStore is an in-memory implementation of Store for testing.
// Text conditions are evaluated case-sensitively.
type MockStore struct {
	mu     sync.RWMutex
	tables map[string][]string // database id -> page ids in insertion order
	pages  map[string]*Page
	parent map[string]string
	calls  []Call
	nextID int
	failOn map[string]error
}

// NewMockStore creates a new mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		tables: make(map[string][]string),
		pages:  make(map[string]*Page),
		parent: make(map[string]string),
		failOn: make(map[string]error),
	}
}

// Seed inserts a page without recording a call and returns a copy of it.
func (m *MockStore) Seed(databaseID string, props Properties) Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyPage(m.insert(databaseID, props))
}

// SeedArchived inserts an archived page without recording a call.
func (m *MockStore) SeedArchived(databaseID string, props Properties) Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.insert(databaseID, props)
	p.Archived = true
	return copyPage(p)
}

// FailOn makes every subsequent operation op return err.
func (m *MockStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

// Calls returns every recorded call in order.
func (m *MockStore) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many calls of op were recorded.
func (m *MockStore) CallCount(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (m *MockStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Page returns a copy of the page with the given id.
func (m *MockStore) Page(id string) (Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[id]
	if !ok {
		return Page{}, false
	}
	return copyPage(p), true
}

// Pages returns copies of every page in a database, in insertion order.
func (m *MockStore) Pages(databaseID string) []Page {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Page, 0, len(m.tables[databaseID]))
	for _, id := range m.tables[databaseID] {
		out = append(out, copyPage(m.pages[id]))
	}
	return out
}

// Query implements Store. Cursors are decimal offsets.
func (m *MockStore) Query(_ context.Context, databaseID string, req QueryRequest) (*QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpQuery, DatabaseID: databaseID, Filter: req.Filter, Sorts: req.Sorts})
	if err := m.failOn[OpQuery]; err != nil {
		return nil, err
	}

	var matched []*Page
	for _, id := range m.tables[databaseID] {
		p := m.pages[id]
		if p.Archived {
			continue
		}
		if req.Filter == nil || matchFilter(p.Properties, *req.Filter) {
			matched = append(matched, p)
		}
	}
	sortPages(matched, req.Sorts)

	offset := 0
	if req.StartCursor != "" {
		n, err := strconv.Atoi(req.StartCursor)
		if err != nil {
			return nil, fmt.Errorf("mock: invalid cursor %q", req.StartCursor)
		}
		offset = n
	}
	size := req.PageSize
	if size <= 0 {
		size = 100
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + size
	if end > len(matched) {
		end = len(matched)
	}

	res := &QueryResult{Results: make([]Page, 0, end-offset)}
	for _, p := range matched[offset:end] {
		res.Results = append(res.Results, copyPage(p))
	}
	if end < len(matched) {
		res.HasMore = true
		res.NextCursor = strconv.Itoa(end)
	}
	return res, nil
}

// CreatePage implements Store.
func (m *MockStore) CreatePage(_ context.Context, databaseID string, props Properties) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpCreate, DatabaseID: databaseID, Properties: copyProps(props)})
	if err := m.failOn[OpCreate]; err != nil {
		return nil, err
	}
	p := copyPage(m.insert(databaseID, props))
	return &p, nil
}

// UpdatePage implements Store.
func (m *MockStore) UpdatePage(_ context.Context, pageID string, req UpdateRequest) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := Call{Op: OpUpdate, PageID: pageID, DatabaseID: m.parent[pageID], Properties: copyProps(req.Properties)}
	if req.Archived != nil {
		archived := *req.Archived
		call.Archived = &archived
	}
	m.calls = append(m.calls, call)
	if err := m.failOn[OpUpdate]; err != nil {
		return nil, err
	}

	p, ok := m.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, pageID)
	}
	for name, v := range req.Properties {
		p.Properties[name] = copyValue(v)
	}
	if req.Archived != nil {
		p.Archived = *req.Archived
	}
	out := copyPage(p)
	return &out, nil
}

func (m *MockStore) insert(databaseID string, props Properties) *Page {
	m.nextID++
	id := fmt.Sprintf("page-%d", m.nextID)
	p := &Page{ID: id, Properties: copyProps(props)}
	if p.Properties == nil {
		p.Properties = Properties{}
	}
	m.pages[id] = p
	m.parent[id] = databaseID
	m.tables[databaseID] = append(m.tables[databaseID], id)
	return p
}

func matchFilter(props Properties, f Filter) bool {
	if len(f.And) > 0 {
		for _, sub := range f.And {
			if !matchFilter(props, sub) {
				return false
			}
		}
		return true
	}
	if len(f.Or) > 0 {
		for _, sub := range f.Or {
			if matchFilter(props, sub) {
				return true
			}
		}
		return false
	}

	switch {
	case f.RichText != nil:
		return matchText(props.Text(f.Property), *f.RichText)
	case f.Title != nil:
		return matchText(props.Text(f.Property), *f.Title)
	case f.Relation != nil:
		for _, id := range props.Relation(f.Property) {
			if id == f.Relation.Contains {
				return true
			}
		}
		return false
	case f.Date != nil:
		start, err := ParseInstant(props.DateStart(f.Property))
		if err != nil {
			return false
		}
		if f.Date.OnOrAfter != "" {
			bound, err := ParseInstant(f.Date.OnOrAfter)
			if err != nil || start.Before(bound) {
				return false
			}
		}
		if f.Date.OnOrBefore != "" {
			bound, err := ParseInstant(f.Date.OnOrBefore)
			if err != nil || start.After(bound) {
				return false
			}
		}
		return true
	case f.Select != nil:
		return props.Text(f.Property) == f.Select.Equals
	case f.Status != nil:
		return props.Text(f.Property) == f.Status.Equals
	}
	return true
}

func matchText(value string, c TextCondition) bool {
	if c.Equals != "" && value != c.Equals {
		return false
	}
	if c.Contains != "" && !strings.Contains(value, c.Contains) {
		return false
	}
	return true
}

func sortPages(pages []*Page, sorts []Sort) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(pages, func(i, j int) bool {
		for _, s := range sorts {
			c := compareProperty(pages[i].Properties[s.Property], pages[j].Properties[s.Property])
			if c == 0 {
				continue
			}
			if s.Direction == Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareProperty orders values of the same kind; missing values sort first.
func compareProperty(a, b Value) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case Date:
		bv, _ := b.(Date)
		at, aerr := ParseInstant(av.Start)
		bt, berr := ParseInstant(bv.Start)
		switch {
		case aerr != nil && berr != nil:
			return 0
		case aerr != nil:
			return -1
		case berr != nil:
			return 1
		}
		return at.Compare(bt)
	case Number:
		bv, _ := b.(Number)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	}
	return strings.Compare(Properties{"v": a}.Text("v"), Properties{"v": b}.Text("v"))
}

func copyPage(p *Page) Page {
	out := *p
	out.Properties = copyProps(p.Properties)
	return out
}

func copyProps(props Properties) Properties {
	if props == nil {
		return nil
	}
	out := make(Properties, len(props))
	for k, v := range props {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v Value) Value {
	if rel, ok := v.(Relation); ok {
		cp := make(Relation, len(rel))
		copy(cp, rel)
		return cp
	}
	return v
}
