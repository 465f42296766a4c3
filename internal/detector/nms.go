package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
)

// NMS methods.
const (
	NMSHard     = "hard"
	NMSLinear   = "linear"
	NMSGaussian = "gaussian"
)

// NMSConfig controls duplicate suppression.
type NMSConfig struct {
	Method       string  // hard (default), linear or gaussian
	IoUThreshold float64 // boxes overlapping more than this are suppressed or decayed
	Sigma        float64 // gaussian Soft-NMS sigma
	ScoreThresh  float64 // Soft-NMS drops boxes whose decayed score falls below this
}

// DefaultNMSConfig returns hard NMS at IoU 0.45.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{Method: NMSHard, IoUThreshold: 0.45, Sigma: 0.5, ScoreThresh: 0.1}
}

// Validate checks the configuration.
func (c NMSConfig) Validate() error {
	switch c.Method {
	case "", NMSHard, NMSLinear, NMSGaussian:
	default:
		return fmt.Errorf("invalid NMS method %q (must be hard, linear or gaussian)", c.Method)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("IoU threshold must be in (0,1], got %v", c.IoUThreshold)
	}
	if c.Method == NMSGaussian && c.Sigma <= 0 {
		return fmt.Errorf("gaussian NMS needs a positive sigma, got %v", c.Sigma)
	}
	return nil
}

// ClassWiseNMS suppresses duplicates within each class independently and
// returns the survivors ordered by descending confidence.
func ClassWiseNMS(dets []lineage.Detection, cfg NMSConfig) []lineage.Detection {
	if len(dets) <= 1 {
		return dets
	}
	byClass := make(map[int][]lineage.Detection)
	var classes []int
	for _, d := range dets {
		if _, ok := byClass[d.ClassID]; !ok {
			classes = append(classes, d.ClassID)
		}
		byClass[d.ClassID] = append(byClass[d.ClassID], d)
	}

	kept := make([]lineage.Detection, 0, len(dets))
	for _, c := range classes {
		group := byClass[c]
		switch cfg.Method {
		case NMSLinear, NMSGaussian:
			kept = append(kept, SoftNonMaxSuppression(group, cfg.Method, cfg.IoUThreshold, cfg.Sigma, cfg.ScoreThresh)...)
		default:
			kept = append(kept, NonMaxSuppression(group, cfg.IoUThreshold)...)
		}
	}
	sortByConfidenceDesc(kept)
	return kept
}

// NonMaxSuppression performs standard greedy Non-Maximum Suppression.
func NonMaxSuppression(dets []lineage.Detection, iouThreshold float64) []lineage.Detection {
	if len(dets) <= 1 {
		return dets
	}

	sorted := append([]lineage.Detection(nil), dets...)
	sortByConfidenceDesc(sorted)
	suppressed := make([]bool, len(sorted))
	kept := make([]lineage.Detection, 0, len(sorted))

	for a := range sorted {
		if suppressed[a] {
			continue
		}
		kept = append(kept, sorted[a])

		for b := a + 1; b < len(sorted); b++ {
			if !suppressed[b] && sorted[a].Box.IoU(sorted[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}

	return kept
}

// SoftNonMaxSuppression decays the confidence of overlapping boxes instead of
// dropping them outright, and then drops those below scoreThresh.
func SoftNonMaxSuppression(dets []lineage.Detection, method string,
	iouThreshold, sigma, scoreThresh float64,
) []lineage.Detection {
	if len(dets) <= 1 {
		return dets
	}

	regs := append([]lineage.Detection(nil), dets...)
	for i := 0; i < len(regs); i++ {
		// bring the highest remaining score to position i
		best := i
		for j := i + 1; j < len(regs); j++ {
			if regs[j].Confidence > regs[best].Confidence {
				best = j
			}
		}
		regs[i], regs[best] = regs[best], regs[i]

		for j := i + 1; j < len(regs); j++ {
			iou := regs[i].Box.IoU(regs[j].Box)
			regs[j].Confidence *= softNMSWeight(iou, iouThreshold, sigma, method)
		}
	}

	out := regs[:0]
	for _, r := range regs {
		if r.Confidence >= scoreThresh {
			out = append(out, r)
		}
	}
	sortByConfidenceDesc(out)
	return out
}

func softNMSWeight(iou, iouThreshold, sigma float64, method string) float64 {
	switch method {
	case NMSLinear:
		if iou > iouThreshold {
			return 1 - iou
		}
		return 1
	case NMSGaussian:
		return math.Exp(-(iou * iou) / sigma)
	default:
		if iou > iouThreshold {
			return 0
		}
		return 1
	}
}

func sortByConfidenceDesc(dets []lineage.Detection) {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })
}
