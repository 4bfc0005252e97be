// Package geotiff - Georeferencing metadata for GeoTIFF rasters.
//
// Only the geokeys that place pixels on the ground are read here; raster
// decoding stays in OpenCV.
package geotiff

// Affine is the six-parameter pixel-to-world transform, in the same layout
// rasterio uses:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// For a north-up raster B and D are zero, C/F are the coordinates of the
// top-left corner, A is the pixel width and E the (negative) pixel height.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the transform that maps pixel coordinates onto
// themselves. A TIFF with no georeferencing gets this, so downstream code
// still produces geometry in pixel units.
func Identity() Affine {
	return Affine{A: 1, E: 1}
}

// Apply converts a pixel position to world coordinates. Fractional pixel
// positions are fine; box corners land between pixel centers.
func (t Affine) Apply(col, row float64) (x, y float64) {
	x = t.A*col + t.B*row + t.C
	y = t.D*col + t.E*row + t.F
	return x, y
}

// IsIdentity reports whether the transform leaves pixel coordinates
// unchanged, meaning the source raster carried no georeferencing.
func (t Affine) IsIdentity() bool {
	return t == Identity()
}
