// Command detect-eucalyptus finds eucalyptus sprouts in one georeferenced
// aerial image and derives plantation distribution statistics.
//
// Single-pass batch run: load the GeoTIFF, run the pretrained YOLO model,
// convert pixel detections to geographic vectors, compute the metrics report,
// write detections.geojson and metrics.json.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"github.com/CaioBertolini/detect-eucalyptus/geotiff"
	"github.com/CaioBertolini/detect-eucalyptus/metrics"
	"github.com/CaioBertolini/detect-eucalyptus/onnx"
	"github.com/CaioBertolini/detect-eucalyptus/vector"
)

const (
	// DefaultModelPath is the bundled single-class sprout weights file.
	DefaultModelPath = "models/eucalyptus.onnx"
	// DefaultOutputDir is where the vector and report files land.
	DefaultOutputDir = "results"
	// DefaultGSD is the ground sampling distance in meters per pixel.
	DefaultGSD = 0.05
	// MinDetectionAreaM2 filters out detections too small to be a sprout.
	MinDetectionAreaM2 = 1.0
)

// Supported raster extensions; georeferencing only lives in TIFF containers.
var supportedImageExtensions = []string{".tif", ".tiff"}

func main() {
	var (
		source    string
		outputDir string
		modelPath string
		conf      float64
		gsd       float64
		nms       float64
		backend   string
		inputSize int
	)
	flag.StringVar(&source, "source", "", "Path to the GeoTIFF image file (required)")
	flag.StringVar(&outputDir, "output", DefaultOutputDir, "Directory to save the output files")
	flag.StringVar(&modelPath, "model", DefaultModelPath, "Path to the YOLO ONNX model file")
	flag.Float64Var(&conf, "conf", 0.5, "Confidence threshold for detection")
	flag.Float64Var(&gsd, "gsd", DefaultGSD, "Ground Sampling Distance (GSD) in meters per pixel")
	flag.Float64Var(&nms, "nms", 0.45, "IoU threshold for Non-Maximum Suppression")
	flag.StringVar(&backend, "backend", "opencv", "Inference backend: opencv or onnxruntime")
	flag.IntVar(&inputSize, "input-size", 640, "Square model input size in pixels")
	flag.Parse()

	if err := validateArgs(source, modelPath, conf, gsd); err != nil {
		log.Fatal(err)
	}

	config := onnx.Config{
		ModelPath:           modelPath,
		InputShape:          image.Point{X: inputSize, Y: inputSize},
		ConfidenceThreshold: float32(conf),
		NMSThreshold:        float32(nms),
	}
	detector, err := newDetector(backend, config)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	defer detector.Close()
	fmt.Printf("✅ Model loaded: %s\n", modelPath)

	img := gocv.IMRead(source, gocv.IMReadColor)
	if img.Empty() {
		log.Fatalf("Failed to read image: %s", source)
	}
	defer img.Close()

	ref, err := geotiff.Read(source)
	if err != nil {
		log.Fatalf("Failed to read georeferencing: %v", err)
	}
	if ref.Transform.IsIdentity() {
		fmt.Println("⚠️  Image carries no georeferencing; coordinates will be in pixel units")
	}
	fmt.Printf("Image loaded: %dx%d px, EPSG %d. Running detection...\n",
		img.Cols(), img.Rows(), ref.EPSG)

	detections, err := detector.Detect(img)
	if err != nil {
		log.Fatalf("Detection failed: %v", err)
	}
	fmt.Printf("Detections: %d. Converting to geographic vectors...\n", len(detections))

	footprints, areas := toFootprints(detections, ref.Transform, gsd)
	fmt.Printf("Vectors kept after minimum-area filter: %d. Computing metrics...\n", len(footprints))

	imageAreaHa := surveyedHectares(img, gsd)
	report, err := metrics.Compute(areas, imageAreaHa)
	if err != nil {
		log.Fatalf("Metrics computation failed: %v", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	vectorPath := filepath.Join(outputDir, "detections.geojson")
	if err := vector.WriteGeoJSON(vectorPath, footprints, ref.EPSG); err != nil {
		log.Fatalf("Failed to write vectors: %v", err)
	}

	reportPath := filepath.Join(outputDir, "metrics.json")
	if err := writeReport(reportPath, report); err != nil {
		log.Fatalf("Failed to write metrics: %v", err)
	}

	fmt.Printf("✅ Done! Vectors saved to %q and metrics to %q.\n", vectorPath, reportPath)
}

// validateArgs fails fast before any model or raster work starts.
func validateArgs(source, modelPath string, conf, gsd float64) error {
	if source == "" {
		return fmt.Errorf("missing required -source flag")
	}
	if err := validateFile(source, supportedImageExtensions); err != nil {
		return fmt.Errorf("source validation error: %w", err)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("model file does not exist: %s", modelPath)
	}
	if conf < 0 || conf > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1, got %g", conf)
	}
	if gsd <= 0 {
		return fmt.Errorf("gsd must be a positive number, got %g", gsd)
	}
	return nil
}

// validateFile checks that the file exists and has a supported extension.
func validateFile(filePath string, supportedExtensions []string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("file not found: %s", filePath)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is not a file", filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	for _, supportedExt := range supportedExtensions {
		if ext == supportedExt {
			return nil
		}
	}
	return fmt.Errorf("unsupported file extension: %s. Supported extensions: %v", ext, supportedExtensions)
}

func newDetector(backend string, config onnx.Config) (onnx.Detector, error) {
	switch backend {
	case "opencv":
		return onnx.NewDNNDetector(config)
	case "onnxruntime":
		return onnx.NewRuntimeDetector(config)
	default:
		return nil, fmt.Errorf("unknown backend %q (want opencv or onnxruntime)", backend)
	}
}

// toFootprints converts pixel detections to world-coordinate footprints and
// collects their real-world areas, dropping anything at or below the
// minimum sprout area.
func toFootprints(detections []onnx.Detection, transform geotiff.Affine, gsd float64) ([]vector.Footprint, []float64) {
	var footprints []vector.Footprint
	var areas []float64

	for _, d := range detections {
		area := float64(d.Box.Dx()) * float64(d.Box.Dy()) * gsd * gsd
		if area <= MinDetectionAreaM2 {
			continue
		}

		// Box corners to world coordinates; the transform's negative pixel
		// height flips Y, so normalize the min/max pairing afterwards.
		x1, y1 := transform.Apply(float64(d.Box.Min.X), float64(d.Box.Min.Y))
		x2, y2 := transform.Apply(float64(d.Box.Max.X), float64(d.Box.Max.Y))

		footprints = append(footprints, vector.Footprint{
			MinX:       min(x1, x2),
			MinY:       min(y1, y2),
			MaxX:       max(x1, x2),
			MaxY:       max(y1, y2),
			ClassID:    d.ClassID,
			Confidence: float64(d.Score),
			AreaM2:     area,
		})
		areas = append(areas, area)
	}
	return footprints, areas
}

// surveyedHectares measures the ground footprint actually covered by
// imagery: blank (all-zero) pixels are border fill outside the survey and
// do not count toward density.
func surveyedHectares(img gocv.Mat, gsd float64) float64 {
	channels := gocv.Split(img)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	sum := gocv.NewMat()
	defer sum.Close()
	channels[0].CopyTo(&sum)
	for _, c := range channels[1:] {
		gocv.Add(sum, c, &sum)
	}

	pixels := gocv.CountNonZero(sum)
	return float64(pixels) * gsd * gsd / 10000.0
}

// writeReport serializes the metrics report with the fixed field names
// downstream tooling parses.
func writeReport(path string, report metrics.Report) error {
	data, err := json.MarshalIndent(report, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
