package models

import (
	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/insight"
)

// BriefEnvelope wraps a brief with its shareable block id.
type BriefEnvelope struct {
	BlockID   string          `json:"block_id"`
	SharePath string          `json:"share_path"`
	Brief     *brief.Response `json:"brief"`
}

// Insights is the per-module severity interpretation of a brief.
type Insights struct {
	BlockID      string                   `json:"block_id"`
	UpdatedAtUTC string                   `json:"updated_at_utc"`
	Modules      []insight.Interpretation `json:"modules"`
}

// Calls311 is the detailed 311 request listing for a block.
type Calls311 struct {
	TotalCalls     int          `json:"total_calls"`
	ReturnedCalls  int          `json:"returned_calls"`
	Truncated      bool         `json:"truncated"`
	WindowDays     int          `json:"window_days"`
	RadiusM        float64      `json:"radius_m"`
	GeneratedAtUTC string       `json:"generated_at_utc"`
	Methodology    string       `json:"methodology"`
	Source         brief.Source `json:"source"`
	Calls          []CallItem   `json:"calls"`
}

// CallItem is one 311 service request.
type CallItem struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle,omitempty"`
	Status       string `json:"status,omitempty"`
	DateStart    string `json:"date_start,omitempty"`
	DateEnd      string `json:"date_end,omitempty"`
	LocationDesc string `json:"location_desc,omitempty"`
}

// Widget is the compact embeddable summary of a brief.
type Widget struct {
	BlockID      string               `json:"block_id"`
	Address      string               `json:"address"`
	UpdatedAtUTC string               `json:"updated_at_utc"`
	ShareURL     string               `json:"share_url"`
	EmbedURL     string               `json:"embed_url"`
	Metrics      brief.SummaryMetrics `json:"metrics"`
	Highlights   WidgetHighlights     `json:"highlights"`
	Lines        []WidgetLine         `json:"lines"`
}

// WidgetHighlights lists the top right-now items and 311 complaint types.
type WidgetHighlights struct {
	RightNow    []brief.Highlight `json:"right_now"`
	Top311Types []brief.Highlight `json:"top_311_types"`
}

// WidgetLine is a line map feature with its geometry as an encoded polyline.
type WidgetLine struct {
	ID       string         `json:"id"`
	ModuleID brief.ModuleID `json:"module_id"`
	Label    string         `json:"label"`
	Polyline string         `json:"polyline"`
}
