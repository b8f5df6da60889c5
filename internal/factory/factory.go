package factory

import (
	"fmt"
	"sort"
	"strings"

	"go-receipt-forensics/internal/aggregator"
	"go-receipt-forensics/internal/analyzer"
	"go-receipt-forensics/internal/config"
	"go-receipt-forensics/internal/pipeline"
	"go-receipt-forensics/internal/scoring"
	"go-receipt-forensics/internal/storage"
)

// Preset names a calibrated set of detector thresholds
type Preset string

const (
	// DefaultPreset for production traffic
	DefaultPreset Preset = "default"
	// SensitivePreset for manual review of borderline receipts
	SensitivePreset Preset = "sensitive"
	// FastPreset for latency-bound callers
	FastPreset Preset = "fast"
)

// StorageType represents different types of storage backends
type StorageType string

const (
	// HTTPStorage for HTTP-based image fetching
	HTTPStorage StorageType = "http"
	// AzureStorage for Azure blob storage
	AzureStorage StorageType = "azure"
	// S3Storage for S3 buckets
	S3Storage StorageType = "s3"
)

// DetectorFactory creates the forensic detectors
type DetectorFactory interface {
	CreateDetectors(cfg config.AnalysisConfig) ([]analyzer.Analyzer, error)
}

// StorageFactory creates image sources
type StorageFactory interface {
	CreateStorage(storageType StorageType) (storage.ImageSource, error)
}

// detectorFactory implements DetectorFactory
type detectorFactory struct{}

// NewDetectorFactory creates a new detector factory
func NewDetectorFactory() DetectorFactory {
	return &detectorFactory{}
}

// PresetOptions returns the detector thresholds for a preset name.
func PresetOptions(name string) (analyzer.Options, error) {
	switch Preset(strings.ToLower(strings.TrimSpace(name))) {
	case DefaultPreset, "":
		return analyzer.DefaultOptions(), nil
	case SensitivePreset:
		return analyzer.SensitiveOptions(), nil
	case FastPreset:
		return analyzer.FastOptions(), nil
	default:
		return analyzer.Options{}, fmt.Errorf("unsupported preset: %s", name)
	}
}

// CreateDetectors builds the configured detectors in canonical order.
func (f *detectorFactory) CreateDetectors(cfg config.AnalysisConfig) ([]analyzer.Analyzer, error) {
	opts, err := PresetOptions(cfg.Preset)
	if err != nil {
		return nil, err
	}
	opts = opts.WithELAQuality(cfg.ELAQuality)

	if len(cfg.Detectors) == 0 {
		return analyzer.All(opts), nil
	}
	wanted := make(map[string]bool, len(cfg.Detectors))
	for _, name := range cfg.Detectors {
		wanted[strings.TrimSpace(name)] = true
	}
	var out []analyzer.Analyzer
	for _, name := range analyzer.DetectorOrder {
		if !wanted[name] {
			continue
		}
		a, err := analyzer.New(name, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		delete(wanted, name)
	}
	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for name := range wanted {
			unknown = append(unknown, name)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unsupported detector: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// PipelineOptions maps configuration onto orchestrator options.
func PipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		MaxDimension:    cfg.Analysis.MaxDimension,
		RunTimeout:      cfg.Analysis.RunTimeout,
		AnalyzerTimeout: cfg.Analysis.AnalyzerTimeout,
		Aggregator: aggregator.Config{
			HeatmapSize: cfg.Analysis.HeatmapSize,
			MergeIoU:    cfg.Analysis.MergeIoU,
		},
		Scoring: ScoringConfig(cfg.Scoring),
	}
}

// ScoringConfig copies weights and thresholds. Missing weights fall back
// to the defaults.
func ScoringConfig(cfg config.ScoringConfig) scoring.Config {
	out := scoring.DefaultConfig()
	if len(cfg.Weights) > 0 {
		out.Weights = make(map[string]float64, len(cfg.Weights))
		for name, w := range scoring.DefaultConfig().Weights {
			out.Weights[name] = w
		}
		for name, w := range cfg.Weights {
			out.Weights[strings.ToLower(name)] = w
		}
	}
	if cfg.ReportThreshold > 0 {
		out.ReportThreshold = cfg.ReportThreshold
	}
	if cfg.HighFrom > 0 {
		out.HighFrom = cfg.HighFrom
	}
	if cfg.CriticalFrom > 0 {
		out.CriticalFrom = cfg.CriticalFrom
	}
	if cfg.UnclearFrom > 0 {
		out.UnclearFrom = cfg.UnclearFrom
	}
	if cfg.SuspiciousFrom > 0 {
		out.SuspiciousFrom = cfg.SuspiciousFrom
	}
	if cfg.FraudulentFrom > 0 {
		out.FraudulentFrom = cfg.FraudulentFrom
	}
	return out
}

// storageFactory implements StorageFactory
type storageFactory struct {
	cfg      config.StorageConfig
	s3Client storage.S3API
}

// NewStorageFactory creates a storage factory. s3Client may be nil when
// no bucket is configured.
func NewStorageFactory(cfg config.StorageConfig, s3Client storage.S3API) StorageFactory {
	return &storageFactory{cfg: cfg, s3Client: s3Client}
}

// CreateStorage creates a storage implementation based on the specified type
func (f *storageFactory) CreateStorage(storageType StorageType) (storage.ImageSource, error) {
	switch storageType {
	case HTTPStorage:
		return storage.NewHTTPImageSource(f.cfg.FetchTimeout), nil
	case AzureStorage:
		if f.cfg.AzureAccount == "" || f.cfg.AzureKey == "" {
			return nil, fmt.Errorf("azure storage is not configured")
		}
		src, err := storage.NewAzureBlobSource(f.cfg.AzureAccount, f.cfg.AzureKey, f.cfg.AzureContainer)
		if err != nil {
			return nil, err
		}
		return src, nil
	case S3Storage:
		if f.s3Client == nil || f.cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 storage is not configured")
		}
		return storage.NewS3Source(f.s3Client, f.cfg.S3Bucket), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// BuildRouter registers every configured backend. Plain object keys go to
// S3 when a bucket is set, otherwise to Azure.
func BuildRouter(f StorageFactory) (*storage.Router, error) {
	router := storage.NewRouter("")
	httpSrc, err := f.CreateStorage(HTTPStorage)
	if err != nil {
		return nil, err
	}
	router.Register("http", httpSrc)
	router.Register("https", httpSrc)

	for _, t := range []StorageType{S3Storage, AzureStorage} {
		src, err := f.CreateStorage(t)
		if err != nil {
			continue
		}
		router.Register(string(t), src)
		if router.Fallback() == "" {
			router.SetFallback(string(t))
		}
	}
	return router, nil
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	DetectorFactory DetectorFactory
	StorageFactory  StorageFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory(cfg *config.Config, s3Client storage.S3API) *ComponentFactory {
	return &ComponentFactory{
		DetectorFactory: NewDetectorFactory(),
		StorageFactory:  NewStorageFactory(cfg.Storage, s3Client),
	}
}
