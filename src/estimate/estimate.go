// Package estimate predicts how long a freshly uploaded file will take to
// process, before any real progress signal exists. The output is advisory
// only: it seeds the client's upload view and is discarded as soon as the
// first server-side update arrives.
package estimate

const (
	// MinimumSeconds floors every estimate; anything lower reads as an
	// implausibly fast promise for a clinical dataset.
	MinimumSeconds = 30

	recordsPerMB = 400
)

type tier struct {
	maxMB     float64
	baseSecs  float64
	perMBSecs float64
}

// Size tiers are piecewise-linear; the very-large tier adds a per-record
// term because processing cost stops scaling linearly at that size.
var tiers = []tier{
	{maxMB: 2, baseSecs: 30, perMBSecs: 15},
	{maxMB: 10, baseSecs: 45, perMBSecs: 12},
	{maxMB: 50, baseSecs: 90, perMBSecs: 9},
}

const (
	veryLargeBaseSecs  = 180
	veryLargePerMBSecs = 7
	perRecordSecs      = 0.002
)

// Seconds estimates processing duration for a file of the given size.
func Seconds(fileSizeBytes int64) int {
	if fileSizeBytes < 0 {
		fileSizeBytes = 0
	}
	sizeMB := float64(fileSizeBytes) / (1024 * 1024)

	var secs float64
	matched := false
	for _, t := range tiers {
		if sizeMB < t.maxMB {
			secs = t.baseSecs + t.perMBSecs*sizeMB
			matched = true
			break
		}
	}
	if !matched {
		estimatedRecords := sizeMB * recordsPerMB
		secs = veryLargeBaseSecs + veryLargePerMBSecs*sizeMB + perRecordSecs*estimatedRecords
	}

	if secs < MinimumSeconds {
		secs = MinimumSeconds
	}
	return int(secs)
}
