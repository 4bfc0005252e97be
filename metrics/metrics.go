// Package metrics - Plantation distribution statistics over detected sprout
// areas.
package metrics

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ErrInvalidImageArea signals a caller contract violation: the surveyed
// footprint must cover a positive number of hectares before density means
// anything.
var ErrInvalidImageArea = errors.New("image area must be a positive number of hectares")

// Report provides the distribution analysis of one image's detections.
//
// Field names are fixed so downstream tooling can parse the JSON report
// unambiguously.
type Report struct {
	// TotalDetections is the number of detections that survived filtering.
	TotalDetections int `json:"total_detections"`

	// TotalAreaM2 is the summed footprint of all detections in square meters.
	TotalAreaM2 float64 `json:"total_area_m2"`

	// ImageAreaHa is the surveyed ground footprint in hectares.
	ImageAreaHa float64 `json:"image_area_ha"`

	// DetectionsPerHa normalizes the count by the surveyed area.
	DetectionsPerHa float64 `json:"detections_per_ha"`

	// AreaStdDev is the population standard deviation of detection areas.
	AreaStdDev float64 `json:"area_std_dev"`

	// Gini measures inequality of the area distribution: 0 when every plant
	// covers the same ground, approaching 1 as a few plants dominate.
	Gini float64 `json:"gini"`

	// PV50 is the area value at which the ascending cumulative sum first
	// reaches half of TotalAreaM2, a plantation-homogeneity indicator.
	PV50 float64 `json:"pv50"`
}

// Compute reduces per-detection areas into a Report.
//
// A pure function of its inputs: the caller's slice is never mutated, the
// result does not depend on input order, and equal inputs yield equal
// reports. An empty areas slice is a normal run and produces a zero-valued
// report; a non-positive imageAreaHa is a contract violation and returns
// ErrInvalidImageArea.
func Compute(areas []float64, imageAreaHa float64) (Report, error) {
	if imageAreaHa <= 0 {
		return Report{}, errors.Wrapf(ErrInvalidImageArea, "got %g", imageAreaHa)
	}

	sorted := make([]float64, len(areas))
	copy(sorted, areas)
	sort.Float64s(sorted)

	total := 0.0
	for _, a := range sorted {
		total += a
	}

	report := Report{
		TotalDetections: len(sorted),
		TotalAreaM2:     total,
		ImageAreaHa:     imageAreaHa,
		DetectionsPerHa: float64(len(sorted)) / imageAreaHa,
		AreaStdDev:      areaStdDev(sorted),
		Gini:            gini(sorted, total),
		PV50:            pv50(sorted, total),
	}
	return report, nil
}

func areaStdDev(areas []float64) float64 {
	if len(areas) <= 1 {
		return 0
	}
	return stat.PopStdDev(areas, nil)
}

// gini computes the Gini coefficient over ascending-sorted areas:
//
//	G = 2·Σ i·aᵢ / (n·Σa) − (n+1)/n, with 1-indexed rank i.
//
// Zero when there are no areas or all areas are zero, which keeps the
// division defined.
func gini(sorted []float64, total float64) float64 {
	n := len(sorted)
	if n == 0 || total == 0 {
		return 0
	}

	weighted := 0.0
	for i, a := range sorted {
		weighted += float64(i+1) * a
	}
	return 2*weighted/(float64(n)*total) - float64(n+1)/float64(n)
}

// pv50 returns the smallest area value at which the ascending cumulative
// sum first reaches half of the total area.
func pv50(sorted []float64, total float64) float64 {
	if total == 0 {
		return 0
	}

	cumulative := 0.0
	for _, a := range sorted {
		cumulative += a
		if cumulative >= total/2 {
			return a
		}
	}
	// Unreachable: the full cumulative sum equals total.
	return sorted[len(sorted)-1]
}
