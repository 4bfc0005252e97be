// Package vector - GeoJSON serialization of detection footprints.
package vector

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// Footprint is one detection footprint in world coordinates, with the
// attributes written alongside its geometry.
type Footprint struct {
	MinX, MinY float64
	MaxX, MaxY float64
	ClassID    int
	Confidence float64
	AreaM2     float64
}

// Feature converts a footprint into a GeoJSON feature whose geometry is the
// closed rectangle of the detection box.
func Feature(fp Footprint) *geojson.Feature {
	ring := orb.Ring{
		{fp.MinX, fp.MinY},
		{fp.MaxX, fp.MinY},
		{fp.MaxX, fp.MaxY},
		{fp.MinX, fp.MaxY},
		{fp.MinX, fp.MinY},
	}

	f := geojson.NewFeature(orb.Polygon{ring})
	f.Properties["class"] = fp.ClassID
	f.Properties["confidence"] = fp.Confidence
	f.Properties["area_m2"] = fp.AreaM2
	return f
}

// Collection assembles the footprints into a FeatureCollection. A non-zero
// EPSG code other than WGS84 is recorded as a legacy crs member so GIS tools
// keep the raster's native coordinate system; modern GeoJSON dropped the
// member but every major reader still honors it.
func Collection(footprints []Footprint, epsg int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, fp := range footprints {
		fc.Append(Feature(fp))
	}

	if epsg != 0 && epsg != 4326 {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]interface{}{
				"type": "name",
				"properties": map[string]interface{}{
					"name": fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", epsg),
				},
			},
		}
	}
	return fc
}

// WriteGeoJSON serializes the footprints to path. An empty footprint slice
// writes an empty FeatureCollection, not an error.
func WriteGeoJSON(path string, footprints []Footprint, epsg int) error {
	data, err := json.MarshalIndent(Collection(footprints, epsg), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding feature collection")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}
