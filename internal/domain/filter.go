package domain

// AssetFilter represents filtering options for listing assets.
type AssetFilter struct {
	UniqueID string
	OwnerID  string
	Location string // substring match
	Category string // substring match
	Search   string // free-text search over descriptive fields
}

// IsZero reports whether no filter is set.
func (f AssetFilter) IsZero() bool {
	return f == AssetFilter{}
}

// Pagination bounds shared by all list endpoints.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// PageRequest selects one page of a listing.
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize clamps the request into valid bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the row offset of the requested page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is one page of results plus paging metadata.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Pages    int `json:"pages"`
}

// NewPage assembles paging metadata for a result slice.
func NewPage[T any](items []T, total int, req PageRequest) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if total > 0 {
		pages = (total + req.PageSize - 1) / req.PageSize
	}
	return Page[T]{
		Items:    items,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Pages:    pages,
	}
}
