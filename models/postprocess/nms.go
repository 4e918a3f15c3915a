// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-glasses/images"
)

// DefaultIoUThreshold is the default NMS overlap threshold.
const DefaultIoUThreshold float32 = 0.6

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// Overlap threshold for suppression. Boxes with IoU >= IoUThreshold against a
	// kept box are removed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold" koanf:"iouthreshold"`
	// Number of goroutines used to suppress classes in parallel. Values <= 1 run
	// sequentially.
	NumWorkers int `json:"num_workers" yaml:"num_workers" koanf:"numworkers"`
}

// DefaultNMSConfig returns the default NMS configuration.
func DefaultNMSConfig() *NMSConfig {
	return &NMSConfig{
		IoUThreshold: DefaultIoUThreshold,
		NumWorkers:   1,
	}
}

// ApplyClassNMS filters overlapping detections class by class.
//
// For every class, in ascending class order, the highest scoring remaining
// detection is kept and every remaining detection of the same class whose IoU
// with it reaches the threshold is dropped, until the class is exhausted.
// Detections of different classes never suppress each other.
//
// Arguments:
//   - detections: Unordered detections.
//   - config: NMS configuration. nil uses DefaultNMSConfig.
//
// Returns:
//   - Kept detections ordered by class ascending, then score descending. If no
//     detections are provided, returns nil.
func ApplyClassNMS(detections []Result, config *NMSConfig) []Result {
	if len(detections) == 0 {
		return nil
	}
	if config == nil {
		config = DefaultNMSConfig()
	}

	byClass := make(map[int][]Result)
	for _, d := range detections {
		byClass[d.Class] = append(byClass[d.Class], d)
	}

	classes := make([]int, 0, len(byClass))
	for k := range byClass {
		classes = append(classes, k)
	}
	sort.Ints(classes)

	kept := make([][]Result, len(classes))
	if config.NumWorkers > 1 && len(classes) > 1 {
		var g errgroup.Group
		g.SetLimit(config.NumWorkers)
		for i, k := range classes {
			g.Go(func() error {
				kept[i] = suppress(byClass[k], config.IoUThreshold)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, k := range classes {
			kept[i] = suppress(byClass[k], config.IoUThreshold)
		}
	}

	filtered := make([]Result, 0, len(detections))
	for _, group := range kept {
		filtered = append(filtered, group...)
	}
	return filtered
}

// ApplyGreedyNMS performs class-agnostic greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Unordered detections.
//   - config: NMS configuration. nil uses DefaultNMSConfig.
//
// Returns:
//   - Kept detections ordered by score descending.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	if len(detections) == 0 {
		return nil
	}
	if config == nil {
		config = DefaultNMSConfig()
	}
	return suppress(detections, config.IoUThreshold)
}

// suppress runs greedy max extraction over one group. The input is not modified.
func suppress(group []Result, threshold float32) []Result {
	remaining := make([]Result, len(group))
	copy(remaining, group)
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].Score > remaining[j].Score
	})

	kept := make([]Result, 0, len(remaining))
	for len(remaining) > 0 {
		anchor := remaining[0]
		kept = append(kept, anchor)

		// Compact in place; the write index never passes the read index.
		next := remaining[:0]
		for _, d := range remaining[1:] {
			if images.CalculateIoU(anchor.Box, d.Box) < threshold {
				next = append(next, d)
			}
		}
		remaining = next
	}
	return kept
}
