package brief

import (
	"math"

	"github.com/blockbrief/blockbrief/internal/geo"
)

// CollectMapFeatures derives the map layer from module items: a point for
// every item with a finite coordinate and a line for every item whose WKT
// geometry yields at least two vertices. Features follow module order then
// item order and are truncated at MaxMapFeatures.
func CollectMapFeatures(modules []Module) []MapFeature {
	features := make([]MapFeature, 0)

	for _, m := range modules {
		for _, it := range m.Items {
			ref := it.RawID
			if ref == "" {
				ref = it.Title
			}

			if it.Lat != nil && it.Lon != nil && finite(*it.Lat) && finite(*it.Lon) {
				features = append(features, MapFeature{
					ID:          string(m.ID) + ":" + ref + ":point",
					ModuleID:    m.ID,
					Kind:        FeaturePoint,
					Label:       it.Title,
					Coordinates: [][2]float64{{*it.Lat, *it.Lon}},
				})
			}

			if it.GeometryWKT != "" {
				line := geo.ParseLineString(it.GeometryWKT)
				if len(line) > 1 {
					coords := make([][2]float64, len(line))
					for i, p := range line {
						coords[i] = p.Pair()
					}
					features = append(features, MapFeature{
						ID:          string(m.ID) + ":" + ref + ":line",
						ModuleID:    m.ID,
						Kind:        FeatureLine,
						Label:       it.Title,
						Coordinates: coords,
					})
				}
			}

			if len(features) >= MaxMapFeatures {
				return features[:MaxMapFeatures]
			}
		}
	}
	return features
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
