package pages

import (
	"fmt"
	"strings"
	"time"

	"toolsync/models"
	"toolsync/web/pages/comps"
	"toolsync/web/pages/shared"

	"github.com/rohanthewiz/element"
)

// StatusBadge is the small sync indicator shown by the local tools.
// It is also served on its own at /sync/badge so it can be embedded.
type StatusBadge struct {
	Enabled bool
	State   models.SyncState
	Stats   *models.SyncStats
}

var badgeColors = map[models.SyncStatus]string{
	models.StatusIdle:    "#7f8c8d",
	models.StatusSyncing: "#2980b9",
	models.StatusSynced:  "#27ae60",
	models.StatusOffline: "#e67e22",
	models.StatusError:   "#c0392b",
}

// Label is the short text of the badge.
func (sb StatusBadge) Label() string {
	if !sb.Enabled {
		return "Sync off"
	}
	switch sb.State.Status {
	case models.StatusSyncing:
		return fmt.Sprintf("Syncing (%d pending)", sb.State.QueueSize)
	case models.StatusSynced:
		return "Synced"
	case models.StatusOffline:
		if sb.State.Error != "" {
			return "Sync unavailable"
		}
		return fmt.Sprintf("Offline (%d queued)", sb.State.QueueSize)
	case models.StatusError:
		return "Sync error"
	default:
		return "Idle"
	}
}

func (sb StatusBadge) Render(b *element.Builder) any {
	color := badgeColors[sb.State.Status]
	if !sb.Enabled || color == "" {
		color = badgeColors[models.StatusIdle]
	}

	b.DivClass("sync-badge", "style", "display:inline-block; padding:4px 10px; border-radius:12px; color:white; background-color:"+color).R(
		b.SpanClass("sync-badge-label").T(sb.Label()),
	)

	if sb.State.Error != "" {
		b.PClass("sync-error", "style", "color:#c0392b; margin:6px 0").T(sb.State.Error)
	}
	return nil
}

// StatusPage is the full status view served at /.
type StatusPage struct {
	shared.Page
	Badge  StatusBadge
	UserID string // "" when sync is disabled
	Now    time.Time
}

func NewStatusPage(badge StatusBadge, userID string) StatusPage {
	return StatusPage{
		Page:   shared.Page{Title: "Toolsync"},
		Badge:  badge,
		UserID: userID,
		Now:    time.Now(),
	}
}

func (p StatusPage) heading() comps.SectionHeading {
	detail := "Updated " + p.Now.Format("15:04:05")
	if p.UserID != "" {
		detail = "Account " + p.UserID + ", " + strings.ToLower(detail)
	}
	return comps.SectionHeading{Title: "Sync status", Detail: detail}
}

func (p StatusPage) Render() string {
	b := element.NewBuilder()

	b.Html("lang", "en").R(
		b.Head().R(
			b.Meta("charset", "UTF-8"),
			b.Meta("http-equiv", "refresh", "content", "5"),
			b.Title().T(p.Title),
		),
		b.Body("style", "font-family:sans-serif; margin:0").R(
			element.RenderComponents(b, p.Banner(), p.heading()),
			b.Div("style", "padding:0 20px 16px").R(
				element.RenderComponents(b, p.Badge),
				p.renderStats(b),
			),
			element.RenderComponents(b, p.Footer()),
		),
	)
	return b.String()
}

func (p StatusPage) renderStats(b *element.Builder) any {
	stats := p.Badge.Stats
	if !p.Badge.Enabled || stats == nil {
		b.P().T("Changes are stored on this device only.")
		return nil
	}

	lastSync := "never"
	if stats.LastSync != nil {
		lastSync = p.Now.Sub(*stats.LastSync).Round(time.Second).String() + " ago"
	}
	online := "no"
	if stats.IsOnline {
		online = "yes"
	}

	b.Ul("style", "margin-top:12px; padding-left:0; list-style:none").R(
		statRow(b, "Queued changes", fmt.Sprint(stats.QueueSize)),
		statRow(b, "Failed changes", fmt.Sprint(stats.FailedCount)),
		statRow(b, "Last sync", lastSync),
		statRow(b, "Hub reachable", online),
	)
	return nil
}

func statRow(b *element.Builder, label, value string) any {
	b.Li("style", "padding:2px 0").R(
		b.Span("style", "color:gray; display:inline-block; width:140px").T(label),
		b.Span().T(value),
	)
	return nil
}
