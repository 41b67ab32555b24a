package handler

import (
	"net/http"

	"github.com/blockbrief/blockbrief/internal/api/models"
	"github.com/blockbrief/blockbrief/internal/api/response"
	"github.com/blockbrief/blockbrief/internal/soda"
)

// MetadataHandler handles metadata endpoints.
type MetadataHandler struct{}

// NewMetadataHandler creates a new MetadataHandler.
func NewMetadataHandler() *MetadataHandler {
	return &MetadataHandler{}
}

// ListDatasets handles GET /v1/metadata/datasets.
func (h *MetadataHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets := soda.Datasets()
	items := make([]models.Dataset, len(datasets))
	for i, d := range datasets {
		items[i] = models.Dataset{
			ID:         d.ID,
			Name:       d.Name,
			URL:        d.URL,
			TTLSeconds: d.TTLSeconds(),
			Modules:    d.Modules,
		}
	}
	response.Cached(w, r, "public, max-age=3600", models.DatasetList{Items: items})
}
