// Package common - Shared detection geometry types.
package common

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// BoundingBox represents one detection candidate in source-image pixel
// coordinates, with its class and confidence.
type BoundingBox struct {
	ClassID        int
	Confidence     float32
	X1, Y1, X2, Y2 float32
}

func (b *BoundingBox) String() string {
	return fmt.Sprintf("Class %d (confidence %f): (%f, %f), (%f, %f)",
		b.ClassID, b.Confidence, b.X1, b.Y1, b.X2, b.Y2)
}

// ToRect converts the bounding box to an image.Rectangle.
//
// This method converts floating-point coordinates to integer coordinates
// suitable for image processing operations.
func (b *BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

// Area returns the box footprint in square pixels.
func (b *BoundingBox) Area() float32 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Intersection calculates the intersection area between two bounding boxes.
func (b *BoundingBox) Intersection(other *BoundingBox) float32 {
	ix1 := math32.Max(b.X1, other.X1)
	iy1 := math32.Max(b.Y1, other.Y1)
	ix2 := math32.Min(b.X2, other.X2)
	iy2 := math32.Min(b.Y2, other.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	return (ix2 - ix1) * (iy2 - iy1)
}

// Union calculates the union area between two bounding boxes.
func (b *BoundingBox) Union(other *BoundingBox) float32 {
	return b.Area() + other.Area() - b.Intersection(other)
}

// IoU calculates the Intersection over Union between two bounding boxes.
//
// This metric is used for Non-Maximum Suppression (NMS) to remove duplicate
// detections.
func (b *BoundingBox) IoU(other *BoundingBox) float32 {
	union := b.Union(other)
	if union == 0 {
		return 0
	}
	return b.Intersection(other) / union
}
