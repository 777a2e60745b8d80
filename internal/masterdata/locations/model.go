package locations

// Kind distinguishes the two stock-holding location types. Stock is tracked
// per (item, location) where a location is a warehouse or a branch, never a
// free-form class name.
type Kind string

const (
	KindWarehouse Kind = "warehouse"
	KindBranch    Kind = "branch"
)

// IsValid reports whether the kind is one of the known location types.
func (k Kind) IsValid() bool {
	return k == KindWarehouse || k == KindBranch
}

// Location is a stock-holding place of either kind.
type Location struct {
	ID      int64  `json:"id"`
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}
