package models

// Dataset describes one upstream open-data dataset.
type Dataset struct {
	ID         string   `json:"dataset_id"`
	Name       string   `json:"dataset_name"`
	URL        string   `json:"dataset_url"`
	TTLSeconds int      `json:"default_ttl_seconds"`
	Modules    []string `json:"modules"`
}

// DatasetList is the /v1/metadata/datasets payload.
type DatasetList struct {
	Items []Dataset `json:"items"`
}
