package shared

// ListFilters represents standard list page filters.
type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	SortBy  string
	SortDir string
}

const (
	// DefaultPage is the first page of a listing.
	DefaultPage = 1
	// DefaultLimit bounds list sizes when the caller does not ask.
	DefaultLimit = 20
)
