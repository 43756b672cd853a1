package history

// Page is one slice of a listing. NextCursor is set when more items follow
// and should be passed back as the after cursor of the next List call.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor,omitempty"`
}

// PageOption configures a Page built by NewPage.
type PageOption[T any] func(*Page[T])

// WithNextCursor marks the page as having more results after cursor.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) { p.NextCursor = &cursor }
}

// NewPage builds a Page from items. A nil slice becomes empty so the page
// encodes as "items": [].
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	if items == nil {
		items = []T{}
	}
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
