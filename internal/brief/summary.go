package brief

import "strings"

// SummaryMetrics are the headline figures shown on widgets and share cards.
type SummaryMetrics struct {
	ActiveDisruptions int `json:"active_disruptions"`
	Crashes90d        int `json:"crashes_90d"`
	Injuries90d       int `json:"injuries_90d"`
	Requests30d       int `json:"requests_30d"`
	UpcomingEvents30d int `json:"upcoming_events_30d"`
}

// Summarize reads the summary figures off a brief's module stats. Missing
// modules or stats count as zero.
func Summarize(r *Response) SummaryMetrics {
	stat := func(id ModuleID, label string) int {
		m := r.Module(id)
		if m == nil {
			return 0
		}
		return int(m.StatFloat(label))
	}

	active := stat(ModuleRightNow, "Active closures") +
		stat(ModuleRightNow, "Active street works") +
		stat(ModuleRightNow, "Active film permits")

	return SummaryMetrics{
		ActiveDisruptions: active,
		Crashes90d:        stat(ModuleCollisions, "Crashes (90d)"),
		Injuries90d:       stat(ModuleCollisions, "Injuries (90d)"),
		Requests30d:       stat(Module311Pulse, "Requests (30d)"),
		UpcomingEvents30d: stat(ModuleEvents, "Upcoming events"),
	}
}

// Highlight is a trimmed title/subtitle pair.
type Highlight struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
}

// TopItems returns up to limit items of m with blank titles skipped and
// duplicates (case-insensitive title and subtitle) removed.
func TopItems(m *Module, limit int) []Highlight {
	out := []Highlight{}
	if m == nil || limit <= 0 {
		return out
	}

	seen := make(map[string]struct{})
	for _, it := range m.Items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		subtitle := strings.TrimSpace(it.Subtitle)
		key := strings.ToLower(title) + "|" + strings.ToLower(subtitle)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Highlight{Title: title, Subtitle: subtitle})
		if len(out) >= limit {
			break
		}
	}
	return out
}
