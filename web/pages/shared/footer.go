package shared

import "github.com/rohanthewiz/element"

// Footer carries the refresh hint. It has no data of its own.
type Footer struct{}

func (f Footer) Render(b *element.Builder) any {
	b.Div("style", "background-color:lightgray; padding:6px 20px").R(
		b.P("style", "color:gray; margin:0; font-size:12px").T("Refreshes every 5 seconds"),
	)
	return nil
}
