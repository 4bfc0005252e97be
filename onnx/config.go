package onnx

import "image"

// Layout identifies how a YOLO export organizes its output tensor.
type Layout string

const (
	// LayoutYOLOv8 is the ultralytics v8+ export: [1, 4+classes, anchors],
	// class scores already sigmoided, no objectness column.
	LayoutYOLOv8 Layout = "yolov8"
	// LayoutYOLOv5 is the older export: [1, anchors, 5+classes] with an
	// objectness column before the class scores.
	LayoutYOLOv5 Layout = "yolov5"
)

// Config for a YOLO detector backend.
type Config struct {
	ModelPath           string
	InputShape          image.Point
	ConfidenceThreshold float32
	NMSThreshold        float32
	Layout              Layout

	// ONNX Runtime backend only.
	InputName   string
	OutputName  string
	LibraryPath string
}

// withDefaults fills the fields a caller may leave zero.
func (c Config) withDefaults() Config {
	if c.InputShape.X == 0 || c.InputShape.Y == 0 {
		c.InputShape = image.Point{X: 640, Y: 640}
	}
	if c.NMSThreshold == 0 {
		c.NMSThreshold = 0.45
	}
	if c.Layout == "" {
		c.Layout = LayoutYOLOv8
	}
	if c.InputName == "" {
		c.InputName = "images"
	}
	if c.OutputName == "" {
		c.OutputName = "output0"
	}
	return c
}
