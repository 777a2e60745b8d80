package httpx

// Page is the pagination block returned alongside every counted listing.
type Page struct {
	Limit      int `json:"limit"`
	Offset     int `json:"offset"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPage clamps the window and derives the page count for total rows.
func NewPage(limit, offset, total int) Page {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	pages := 0
	if total > 0 {
		pages = (total + limit - 1) / limit
	}
	return Page{Limit: limit, Offset: offset, Total: total, TotalPages: pages}
}
