package onnx

import (
	"image"
	"sort"

	"github.com/chewxy/math32"

	"github.com/CaioBertolini/detect-eucalyptus/common"
)

// Detection represents a detected object in source-image pixel coordinates.
type Detection struct {
	Box     image.Rectangle
	Score   float32
	ClassID int
}

// decodeOutput converts one raw YOLO output tensor into detection candidates.
//
// The tensor is addressed through at(anchor, attr) so both backends can share
// the decode regardless of whether the raw buffer is anchor-major (OpenCV
// after transpose) or attribute-major (ONNX Runtime v8 exports).
//
// Arguments:
//   - at: Accessor for the value of attribute attr at anchor row i.
//   - anchors: Number of anchor rows in the output.
//   - attrs: Number of attributes per anchor (4 box values plus scores).
//   - orig: Source image size in pixels.
//   - input: Model input size in pixels.
//
// Returns:
//   - Candidates above the confidence threshold, before NMS.
func decodeOutput(at func(i, j int) float32, anchors, attrs int, layout Layout,
	orig, input image.Point, confThreshold float32) []common.BoundingBox {

	scoreStart := 4
	if layout == LayoutYOLOv5 {
		scoreStart = 5
	}
	if attrs <= scoreStart {
		return nil
	}

	sx := float32(orig.X) / float32(input.X)
	sy := float32(orig.Y) / float32(input.Y)

	var candidates []common.BoundingBox
	for i := 0; i < anchors; i++ {
		// Find the class with highest confidence.
		classID := 0
		maxScore := float32(0)
		for j := scoreStart; j < attrs; j++ {
			if score := at(i, j); score > maxScore {
				maxScore = score
				classID = j - scoreStart
			}
		}

		confidence := maxScore
		if layout == LayoutYOLOv5 {
			confidence = at(i, 4) * maxScore
		}
		if confidence < confThreshold {
			continue
		}

		// Box values are center/size in model-input pixels; scale them back
		// to the source image and clamp to its bounds.
		centerX := at(i, 0) * sx
		centerY := at(i, 1) * sy
		width := at(i, 2) * sx
		height := at(i, 3) * sy

		candidates = append(candidates, common.BoundingBox{
			ClassID:    classID,
			Confidence: confidence,
			X1:         math32.Max(0, centerX-width/2),
			Y1:         math32.Max(0, centerY-height/2),
			X2:         math32.Min(float32(orig.X), centerX+width/2),
			Y2:         math32.Min(float32(orig.Y), centerY+height/2),
		})
	}

	return candidates
}

// applyNMS applies greedy Non-Maximum Suppression to remove overlapping
// candidates, keeping the highest-scoring box of each overlap group.
func applyNMS(candidates []common.BoundingBox, iouThreshold float32) []Detection {
	if len(candidates) == 0 {
		return nil
	}

	// Sort by confidence score (descending).
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	used := make([]bool, len(candidates))
	var result []Detection

	for i := 0; i < len(candidates); i++ {
		if used[i] {
			continue
		}
		used[i] = true
		result = append(result, Detection{
			Box:     candidates[i].ToRect(),
			Score:   candidates[i].Confidence,
			ClassID: candidates[i].ClassID,
		})

		// Suppress remaining candidates that overlap too much.
		for j := i + 1; j < len(candidates); j++ {
			if used[j] {
				continue
			}
			if candidates[i].IoU(&candidates[j]) > iouThreshold {
				used[j] = true
			}
		}
	}

	return result
}
