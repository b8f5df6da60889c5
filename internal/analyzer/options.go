package analyzer

// Options holds the tunable thresholds of every detector.
type Options struct {
	// Shared
	MinRegionBlocks int
	ZThreshold      float64

	// Error-level analysis
	ELAQuality         int
	ELAAmplification   float64
	ELABlockSize       int
	ELAMinBlockError   float64
	ELAStdThreshold    float64
	ELABrightLevel     float64
	ELABrightRatio     float64
	ELAChangedDelta    float64
	ELAHotspotWindow   int
	ELAHotspotStride   int
	ELAHotspotFraction float64
	ELAMaxHotspots     int

	// Noise pattern
	NoiseBlockSize      int
	NoiseRatioThreshold float64
	NoiseMinSigmaDelta  float64

	// Compression artifacts
	CompressionTileSize          int
	CompressionGridStrength      float64
	CompressionResidualThreshold float64
	CompressionMinFrequencies    int
	CompressionMaxRegionShare    float64

	// Clone / copy-paste
	CloneBlockSize     int
	CloneMinStdDev     float64
	CloneSimilarity    float64
	CloneMinSeparation int
	CloneMinMatches    int
	CloneStrongMatches int
	CloneMaxBucket     int
	CloneMaxClusters   int

	// Edge consistency
	EdgeBlockSize   int
	EdgeThreshold   float64
	EdgeHardness    float64
	EdgeMinContrast float64
	EdgeMinPixels   int
	EdgeMinDelta    float64
}

// DefaultOptions returns the calibrated detector thresholds
func DefaultOptions() Options {
	return Options{
		MinRegionBlocks: 2,
		ZThreshold:      3.5,

		ELAQuality:         95,
		ELAAmplification:   4,
		ELABlockSize:       8,
		ELAMinBlockError:   24,
		ELAStdThreshold:    25,
		ELABrightLevel:     128,
		ELABrightRatio:     0.15,
		ELAChangedDelta:    10,
		ELAHotspotWindow:   32,
		ELAHotspotStride:   16,
		ELAHotspotFraction: 0.15,
		ELAMaxHotspots:     20,

		NoiseBlockSize:      16,
		NoiseRatioThreshold: 4,
		NoiseMinSigmaDelta:  3,

		CompressionTileSize:          64,
		CompressionGridStrength:      0.25,
		CompressionResidualThreshold: 0.5,
		CompressionMinFrequencies:    8,
		CompressionMaxRegionShare:    0.25,

		CloneBlockSize:     16,
		CloneMinStdDev:     12,
		CloneSimilarity:    0.992,
		CloneMinSeparation: 24,
		CloneMinMatches:    12,
		CloneStrongMatches: 48,
		CloneMaxBucket:     64,
		CloneMaxClusters:   10,

		EdgeBlockSize:   16,
		EdgeThreshold:   60,
		EdgeHardness:    0.7,
		EdgeMinContrast: 30,
		EdgeMinPixels:   24,
		EdgeMinDelta:    0.3,
	}
}

// SensitiveOptions lowers thresholds for manual review of borderline
// receipts. Expect more false positives.
func SensitiveOptions() Options {
	opts := DefaultOptions()
	opts.ZThreshold = 3.0
	opts.ELAMinBlockError = 16
	opts.NoiseRatioThreshold = 3
	opts.CloneSimilarity = 0.985
	opts.CloneMinMatches = 8
	opts.EdgeMinDelta = 0.25
	return opts
}

// FastOptions trades clone-search depth for latency.
func FastOptions() Options {
	opts := DefaultOptions()
	opts.CloneMaxBucket = 16
	opts.CloneMaxClusters = 5
	opts.ELAMaxHotspots = 10
	return opts
}

// WithELAQuality sets the JPEG quality used for re-compression
func (opts Options) WithELAQuality(quality int) Options {
	if quality >= 1 && quality <= 100 {
		opts.ELAQuality = quality
	}
	return opts
}

// WithCloneSimilarity sets the minimum patch similarity for a clone match
func (opts Options) WithCloneSimilarity(similarity float64) Options {
	if similarity > 0 && similarity <= 1 {
		opts.CloneSimilarity = similarity
	}
	return opts
}

// WithMinRegionBlocks sets how many connected blocks form a region
func (opts Options) WithMinRegionBlocks(n int) Options {
	if n >= 1 {
		opts.MinRegionBlocks = n
	}
	return opts
}

// WithZThreshold sets the adaptive outlier threshold shared by detectors
func (opts Options) WithZThreshold(z float64) Options {
	if z > 0 {
		opts.ZThreshold = z
	}
	return opts
}
