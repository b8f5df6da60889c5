package factory

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-receipt-forensics/internal/analyzer"
	"go-receipt-forensics/internal/config"
	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/scoring"
)

func TestPresetOptions(t *testing.T) {
	for _, name := range []string{"", "default", "Sensitive", "fast"} {
		_, err := PresetOptions(name)
		assert.NoError(t, err, name)
	}
	_, err := PresetOptions("paranoid")
	assert.Error(t, err)

	sensitive, _ := PresetOptions("sensitive")
	assert.Less(t, sensitive.ZThreshold, analyzer.DefaultOptions().ZThreshold)
}

func TestCreateDetectors(t *testing.T) {
	f := NewDetectorFactory()

	all, err := f.CreateDetectors(config.AnalysisConfig{Preset: "default", ELAQuality: 90})
	require.NoError(t, err)
	require.Len(t, all, len(analyzer.DetectorOrder))
	for i, a := range all {
		assert.Equal(t, analyzer.DetectorOrder[i], a.Name())
	}

	some, err := f.CreateDetectors(config.AnalysisConfig{
		Detectors: []string{analyzer.DetectorMetadata, analyzer.DetectorClone},
	})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, analyzer.DetectorClone, some[0].Name(), "canonical order wins over config order")
	assert.Equal(t, analyzer.DetectorMetadata, some[1].Name())

	_, err = f.CreateDetectors(config.AnalysisConfig{Detectors: []string{"ela", "watermark"}})
	assert.EqualError(t, err, "unsupported detector: watermark")

	_, err = f.CreateDetectors(config.AnalysisConfig{Preset: "paranoid"})
	assert.Error(t, err)
}

func TestScoringConfig(t *testing.T) {
	def := ScoringConfig(config.ScoringConfig{})
	assert.Equal(t, scoring.WeightsVersion, def.Version())

	custom := ScoringConfig(config.ScoringConfig{
		Weights:        map[string]float64{"ELA": 25},
		FraudulentFrom: 75,
	})
	assert.Equal(t, 25.0, custom.Weights[analyzer.DetectorELA])
	assert.Equal(t, 40.0, custom.Weights[analyzer.DetectorClone], "unlisted weights keep defaults")
	assert.Equal(t, 75, custom.FraudulentFrom)
	assert.Equal(t, scoring.CustomVersion, custom.Version())
}

func TestLoadedDefaultsKeepWeightsVersion(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	opts := PipelineOptions(cfg)
	assert.Equal(t, scoring.WeightsVersion, opts.Scoring.Version())
	assert.Equal(t, cfg.Analysis.HeatmapSize, opts.Aggregator.HeatmapSize)
	assert.Equal(t, cfg.Analysis.RunTimeout, opts.RunTimeout)
}

func TestCreateStorage(t *testing.T) {
	f := NewStorageFactory(config.StorageConfig{FetchTimeout: time.Second}, nil)

	src, err := f.CreateStorage(HTTPStorage)
	require.NoError(t, err)
	assert.NotNil(t, src)

	_, err = f.CreateStorage(S3Storage)
	assert.Error(t, err, "no client or bucket")
	_, err = f.CreateStorage(AzureStorage)
	assert.Error(t, err, "no credentials")
	_, err = f.CreateStorage("local")
	assert.Error(t, err)
}

func TestBuildRouter(t *testing.T) {
	httpOnly, err := BuildRouter(NewStorageFactory(config.StorageConfig{FetchTimeout: time.Second}, nil))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http", "https"}, httpOnly.Schemes())
	assert.Equal(t, "", httpOnly.Fallback())

	_, err = httpOnly.Fetch(context.Background(), "receipts/r-1.jpg")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	withS3, err := BuildRouter(NewStorageFactory(
		config.StorageConfig{FetchTimeout: time.Second, S3Bucket: "receipts"},
		s3.New(s3.Options{Region: "us-east-1"}),
	))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http", "https", "s3"}, withS3.Schemes())
	assert.Equal(t, "s3", withS3.Fallback())
}
