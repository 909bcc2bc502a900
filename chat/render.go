package chat

// Renderer appends one record to the end of a visual log. Implementations must
// keep records in call order.
type Renderer interface {
	Render(DisplayRecord)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(DisplayRecord)

// Render calls f(rec).
func (f RendererFunc) Render(rec DisplayRecord) { f(rec) }

// Renderers fans one record out to every renderer in order. Nil entries are
// skipped.
type Renderers []Renderer

// Render implements Renderer.
func (rs Renderers) Render(rec DisplayRecord) {
	for _, r := range rs {
		if r != nil {
			r.Render(rec)
		}
	}
}
