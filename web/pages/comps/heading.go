package comps

import "github.com/rohanthewiz/element"

// SectionHeading titles a block of the status page. Detail is an optional
// muted line under the title, such as the account and refresh time.
type SectionHeading struct {
	Title  string
	Detail string
}

func (h SectionHeading) Render(b *element.Builder) any {
	b.DivClass("section-heading", "style", "margin:16px 20px 8px").R(
		b.H2("style", "color:#2c3e50; margin:0").T(h.Title),
		h.renderDetail(b),
	)
	return nil
}

func (h SectionHeading) renderDetail(b *element.Builder) any {
	if h.Detail == "" {
		return nil
	}
	b.Small("style", "color:gray").T(h.Detail)
	return nil
}
