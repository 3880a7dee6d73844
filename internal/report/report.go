// Package report renders duplicate groups as a standalone HTML page for
// reviewing which copies to remove.
package report

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/kozaktomas/photo-dedup/internal/dedup"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

//go:embed template.html
var templateHTML string

var page = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "unknown"
		}
		return t.Format("2006-01-02 15:04")
	},
}).Parse(templateHTML))

// Member is one photo inside a rendered group.
type Member struct {
	ID          string
	FileName    string
	CaptureTime time.Time
	Width       int
	Height      int
	// Keep marks the copy the keep policy would retain.
	Keep bool
	// SourceURL links back to the photo in the library UI, optional.
	SourceURL string
}

// Group is one duplicate group prepared for rendering.
type Group struct {
	GroupID   string
	MatchKind store.MatchKind
	Members   []Member
}

// Page is the full template payload.
type Page struct {
	GeneratedAt time.Time
	Policy      dedup.KeepPolicy
	Groups      []Group
	PhotoCount  int
	ExtraCopies int
}

// Build joins stored groups with their photo records and applies the
// keep policy. Group members lacking a record indicate a store that
// failed consistency validation upstream, Build reports them as errors.
func Build(groups []store.DuplicateGroup, records []store.PhotoRecord, policy dedup.KeepPolicy, sourceURL string) (*Page, error) {
	byID := make(map[string]store.PhotoRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	pg := &Page{
		GeneratedAt: time.Now(),
		Policy:      policy,
	}

	for _, g := range groups {
		members := make([]store.PhotoRecord, 0, len(g.Members))
		for _, id := range g.Members {
			rec, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("group %s references unknown photo %s", g.GroupID, id)
			}
			members = append(members, rec)
		}

		keep := policy.Pick(members)
		view := Group{GroupID: g.GroupID, MatchKind: g.MatchKind}
		for _, rec := range members {
			m := Member{
				ID:          rec.ID,
				FileName:    rec.FileName,
				CaptureTime: rec.CaptureTime,
				Width:       rec.Width,
				Height:      rec.Height,
				Keep:        rec.ID == keep,
			}
			if sourceURL != "" {
				m.SourceURL = sourceURL + "/library/browse?view=cards&q=uid:" + rec.ID
			}
			view.Members = append(view.Members, m)
			pg.PhotoCount++
			if !m.Keep {
				pg.ExtraCopies++
			}
		}
		pg.Groups = append(pg.Groups, view)
	}

	return pg, nil
}

// Render writes the HTML report.
func Render(w io.Writer, pg *Page) error {
	if err := page.Execute(w, pg); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
