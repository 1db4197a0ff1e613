// Package shared contains components used by every page of the status server.
package shared

// Page is embedded by pages to get the common chrome.
//
//	type StatusPage struct {
//	    shared.Page
//	    ...
//	}
type Page struct {
	Title string
}

// Banner returns the page header for p.
func (p Page) Banner() Banner {
	return Banner{Title: p.Title}
}

func (p Page) Footer() Footer {
	return Footer{}
}
