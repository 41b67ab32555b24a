// Package insight turns module stats into a Low/Medium/High severity with
// plain-language impact text.
package insight

import (
	"math"
	"strings"

	"github.com/blockbrief/blockbrief/internal/brief"
)

// Severity is the interpreted impact level of a module.
type Severity string

// Severity levels, lowest first.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Label is the display form: "Low", "Medium" or "High".
func (s Severity) Label() string {
	switch s {
	case SeverityHigh:
		return "High"
	case SeverityMedium:
		return "Medium"
	default:
		return "Low"
	}
}

// Interpretation is the severity reading of one module.
type Interpretation struct {
	ModuleID      brief.ModuleID `json:"module_id"`
	Severity      Severity       `json:"severity"`
	SeverityLabel string         `json:"severity_label"`
	Impact        string         `json:"impact"`
	ThresholdNote string         `json:"threshold_note"`
}

type decision struct {
	severity Severity
	impact   string
	note     string
}

// impacts holds the low, medium and high impact text for a rule.
type impacts [3]string

func (i impacts) pick(s Severity) string {
	return i[s.rank()]
}

var rules = map[brief.ModuleID]func(m *brief.Module) decision{
	brief.ModuleRightNow:    rightNow,
	brief.ModuleDOBPermits:  dobPermits,
	brief.ModuleStreetWorks: streetWorks,
	brief.ModuleCollisions:  collisions,
	brief.Module311Pulse:    pulse311,
	brief.ModuleSanitation:  sanitation,
	brief.ModuleEvents:      events,
	brief.ModuleFilm:        film,
}

// Interpret reads a module's severity. Unavailable modules are always high;
// partial modules are never lower than medium.
func Interpret(m brief.Module) Interpretation {
	if m.Status == brief.StatusUnavailable {
		return Interpretation{
			ModuleID:      m.ID,
			Severity:      SeverityHigh,
			SeverityLabel: SeverityHigh.Label(),
			Impact:        "This module is temporarily unavailable, so current local conditions cannot be confirmed.",
			ThresholdNote: "Unavailable modules default to High uncertainty until data recovers.",
		}
	}

	d := decision{
		severity: SeverityLow,
		impact:   "No interpretation available.",
		note:     "No threshold configured.",
	}
	if rule, ok := rules[m.ID]; ok {
		d = rule(&m)
	}
	if m.Status == brief.StatusPartial {
		d.severity = maxSeverity(d.severity, SeverityMedium)
	}
	return Interpretation{
		ModuleID:      m.ID,
		Severity:      d.severity,
		SeverityLabel: d.severity.Label(),
		Impact:        d.impact,
		ThresholdNote: d.note,
	}
}

// InterpretAll interprets every module of a brief in order.
func InterpretAll(resp *brief.Response) []Interpretation {
	out := make([]Interpretation, 0, len(resp.Modules))
	for _, m := range resp.Modules {
		out = append(out, Interpret(m))
	}
	return out
}

// classify returns high at or above highMin, medium at or above mediumMin.
func classify(value, mediumMin, highMin float64) Severity {
	switch {
	case value >= highMin:
		return SeverityHigh
	case value >= mediumMin:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func maxSeverity(levels ...Severity) Severity {
	out := SeverityLow
	for _, l := range levels {
		if l.rank() > out.rank() {
			out = l
		}
	}
	return out
}

func statDelta(m *brief.Module, label string) float64 {
	s, ok := m.Stat(label)
	if !ok || s.Delta == nil || math.IsNaN(*s.Delta) || math.IsInf(*s.Delta, 0) {
		return 0
	}
	return *s.Delta
}

func rightNow(m *brief.Module) decision {
	active := m.StatFloat("Active closures") + m.StatFloat("Active street works") + m.StatFloat("Active film permits")
	s := classify(active, 1, 3)
	return decision{
		severity: s,
		impact: impacts{
			"No immediate disruption signal. Typical travel and curb access conditions are likely right now.",
			"Expect localized slowdowns or parking friction near active work areas today.",
			"Multiple active disruptions are likely to affect travel time, curb access, or street circulation now.",
		}.pick(s),
		note: "Low: 0 active disruptions. Medium: 1-2. High: 3+.",
	}
}

func dobPermits(m *brief.Module) decision {
	s := maxSeverity(
		classify(m.StatFloat("DOB permits (90d)"), 15, 35),
		classify(m.StatFloat("DOB complaints (90d)"), 10, 25),
		classify(m.StatFloat("ECB violations (12m)"), 5, 12),
	)
	return decision{
		severity: s,
		impact: impacts{
			"Recent construction pressure looks limited. Fewer signs of sustained permit and complaint activity nearby.",
			"Moderate construction activity may create intermittent noise, access, or complaint pressure.",
			"High construction and enforcement signal suggests recurring neighborhood disruption risk.",
		}.pick(s),
		note: "High if any: permits 35+, complaints 25+, or violations 12+. Medium if any: permits 15+, complaints 10+, or violations 5+.",
	}
}

func streetWorks(m *brief.Module) decision {
	s := classify(m.StatFloat("Active street works")+m.StatFloat("Active closures"), 2, 5)
	return decision{
		severity: s,
		impact: impacts{
			"Street operations are relatively quiet. Near-term road impacts appear limited.",
			"Plan for occasional route changes, lane friction, or curb limitations.",
			"High chance of recurring traffic friction and route detours in this area.",
		}.pick(s),
		note: "Low: 0-1 active street disruptions. Medium: 2-4. High: 5+.",
	}
}

func collisions(m *brief.Module) decision {
	s := maxSeverity(
		classify(m.StatFloat("Crashes (90d)"), 15, 40),
		classify(m.StatFloat("Injuries (90d)"), 3, 8),
	)
	return decision{
		severity: s,
		impact: impacts{
			"Recent crash and injury counts are comparatively low for this radius.",
			"Use extra caution at nearby intersections; collision activity is notable.",
			"Elevated recent crash and injury signal indicates higher roadway safety risk nearby.",
		}.pick(s),
		note: "High if injuries 8+ or crashes 40+. Medium if injuries 3+ or crashes 15+.",
	}
}

func pulse311(m *brief.Module) decision {
	s := maxSeverity(
		classify(m.StatFloat("Requests (30d)"), 150, 350),
		classify(math.Max(0, statDelta(m, "Requests (30d)")), 50, 120),
	)
	return decision{
		severity: s,
		impact: impacts{
			"311 pressure is steady to light, with fewer signs of broad neighborhood strain.",
			"Service issues are active and may affect quality-of-life conditions.",
			"High and/or sharply rising complaint volume points to concentrated neighborhood stress.",
		}.pick(s),
		note: "High if requests 350+ or 30d increase 120+. Medium if requests 150+ or increase 50+.",
	}
}

func sanitation(m *brief.Module) decision {
	missing := false
	for _, s := range m.Stats {
		if strings.EqualFold(s.Value.String(), "N/A") {
			missing = true
			break
		}
	}
	if missing || m.Status == brief.StatusPartial {
		return decision{
			severity: SeverityMedium,
			impact:   "Service frequency is partly resolved; treat pickup expectations as approximate.",
			note:     "Medium when any collection frequency is missing or module status is partial.",
		}
	}
	return decision{
		severity: SeverityLow,
		impact:   "Area service frequency is available, useful for routine curb and disposal planning.",
		note:     "Low when all frequency fields are present.",
	}
}

func events(m *brief.Module) decision {
	s := classify(m.StatFloat("Upcoming events"), 8, 20)
	return decision{
		severity: s,
		impact: impacts{
			"Limited upcoming permitted event activity is expected in this local area.",
			"Expect periodic local event activity that may affect foot traffic and curb use.",
			"Dense upcoming event activity could create sustained crowding, parking, or circulation impacts.",
		}.pick(s),
		note: "Low: 0-7 locally relevant events. Medium: 8-19. High: 20+.",
	}
}

func film(m *brief.Module) decision {
	s := maxSeverity(
		classify(m.StatFloat("Upcoming permits"), 5, 15),
		classify(m.StatFloat("Active now"), 1, 3),
	)
	return decision{
		severity: s,
		impact: impacts{
			"Film-related curb and traffic impact appears limited in the near term.",
			"Some parking and lane constraints are possible around film activity windows.",
			"Frequent or active film permits may significantly affect parking and street operations.",
		}.pick(s),
		note: "High if active now 3+ or upcoming permits 15+. Medium if active now 1+ or upcoming permits 5+.",
	}
}
