package onnx

import (
	"image"
	"os"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// RuntimeDetector runs YOLO inference through the ONNX Runtime shared
// library instead of the OpenCV DNN module.
type RuntimeDetector struct {
	config  Config
	session *ort.DynamicAdvancedSession
}

// NewRuntimeDetector creates an ONNX Runtime session for the model.
func NewRuntimeDetector(config Config) (*RuntimeDetector, error) {
	config = config.withDefaults()

	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", config.ModelPath)
	}

	if config.LibraryPath != "" {
		ort.SetSharedLibraryPath(config.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "initializing ONNX Runtime environment")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(config.ModelPath,
		[]string{config.InputName}, []string{config.OutputName}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "creating session for %s", config.ModelPath)
	}

	return &RuntimeDetector{config: config, session: session}, nil
}

// Detect runs inference on the input image and returns detections in
// source-image pixel coordinates.
func (d *RuntimeDetector) Detect(img gocv.Mat) ([]Detection, error) {
	if img.Empty() {
		return nil, errors.New("empty input image")
	}

	src, err := img.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "converting input image")
	}

	data := d.preprocess(src)
	input, err := ort.NewTensor(ort.NewShape(1, 3,
		int64(d.config.InputShape.Y), int64(d.config.InputShape.X)), data)
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, errors.Wrap(err, "running inference")
	}
	output, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.New("model output is not a float32 tensor")
	}
	defer output.Destroy()

	shape := output.GetShape()
	if len(shape) != 3 {
		return nil, errors.Errorf("unexpected model output shape: %v", shape)
	}
	raw := output.GetData()

	// v8 exports come attribute-major, v5 anchor-major; pick the accessor
	// so the shared decode sees one anchor per row either way.
	var anchors, attrs int
	var at func(i, j int) float32
	if d.config.Layout == LayoutYOLOv8 {
		attrs, anchors = int(shape[1]), int(shape[2])
		at = func(i, j int) float32 { return raw[j*anchors+i] }
	} else {
		anchors, attrs = int(shape[1]), int(shape[2])
		at = func(i, j int) float32 { return raw[i*attrs+j] }
	}

	bounds := src.Bounds()
	orig := image.Point{X: bounds.Dx(), Y: bounds.Dy()}

	candidates := decodeOutput(at, anchors, attrs, d.config.Layout,
		orig, d.config.InputShape, d.config.ConfidenceThreshold)

	return applyNMS(candidates, d.config.NMSThreshold), nil
}

// preprocess resizes the image to the model input shape and packs it as a
// normalized CHW RGB tensor.
func (d *RuntimeDetector) preprocess(src image.Image) []float32 {
	w, h := d.config.InputShape.X, d.config.InputShape.Y
	resized := resize.Resize(uint(w), uint(h), src, resize.Bilinear)

	data := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*w + x
			data[idx] = float32(r>>8) / 255.0
			data[plane+idx] = float32(g>>8) / 255.0
			data[2*plane+idx] = float32(b>>8) / 255.0
		}
	}
	return data
}

// Close releases the session. The shared environment is left initialized so
// other sessions in the process keep working.
func (d *RuntimeDetector) Close() error {
	return d.session.Destroy()
}
