// Package onnx - YOLO object detection backends for eucalyptus sprout imagery.
package onnx

import (
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Detector abstracts a pretrained detection model: one image in, a sequence
// of scored boxes out. Any backend satisfying this capability is
// interchangeable.
type Detector interface {
	Detect(img gocv.Mat) ([]Detection, error)
	Close() error
}

// DNNDetector handles YOLO ONNX model inference using gocv.ReadNet().
type DNNDetector struct {
	config Config
	net    gocv.Net
	mu     sync.Mutex
}

// NewDNNDetector loads the model weights through the OpenCV DNN module.
// A missing or unreadable model file fails immediately; model loading is
// not transient, so there is no retry.
func NewDNNDetector(config Config) (*DNNDetector, error) {
	config = config.withDefaults()

	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", config.ModelPath)
	}

	net := gocv.ReadNet(config.ModelPath, "")
	if net.Empty() {
		return nil, errors.Errorf("failed to load ONNX model: %s", config.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendOpenCV)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &DNNDetector{config: config, net: net}, nil
}

// Detect runs inference on the input image and returns detections in
// source-image pixel coordinates.
func (d *DNNDetector) Detect(img gocv.Mat) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if img.Empty() {
		return nil, errors.New("empty input image")
	}

	// BlobFromImage resizes to the model input shape, normalizes to [0,1]
	// and swaps BGR to RGB in one step.
	blob := gocv.BlobFromImage(img, 1.0/255.0, d.config.InputShape,
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Ultralytics v8 exports are attribute-major; transpose in place so the
	// reshape below yields one anchor per row.
	if d.config.Layout == LayoutYOLOv8 {
		gocv.TransposeND(output, []int{0, 2, 1}, &output)
	}

	dims := output.Size()
	if len(dims) < 3 {
		return nil, errors.Errorf("unexpected model output dimensions: %v", dims)
	}
	anchors, attrs := dims[1], dims[2]

	out2d := output.Reshape(1, anchors)
	defer out2d.Close()

	size := img.Size()
	orig := image.Point{X: size[1], Y: size[0]}

	candidates := decodeOutput(func(i, j int) float32 {
		return out2d.GetFloatAt(i, j)
	}, anchors, attrs, d.config.Layout, orig, d.config.InputShape, d.config.ConfidenceThreshold)

	return applyNMS(candidates, d.config.NMSThreshold), nil
}

// Close releases the underlying network.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
