package shared

import "github.com/rohanthewiz/element"

// Banner is the header strip at the top of every page.
type Banner struct {
	Title string
}

// Render implements element.Component
func (b Banner) Render(builder *element.Builder) any {
	builder.Header("style", "background-color:#2c3e50; color:white; padding:12px 20px").R(
		builder.H1("style", "margin:0; font-size:20px").T(b.Title),
	)
	return nil
}
