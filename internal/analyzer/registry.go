package analyzer

import "fmt"

// constructor builds a detector from options.
type constructor func(Options) Analyzer

var constructors = map[string]constructor{
	DetectorClone:       NewCloneAnalyzer,
	DetectorELA:         NewELAAnalyzer,
	DetectorNoise:       NewNoiseAnalyzer,
	DetectorCompression: NewCompressionAnalyzer,
	DetectorEdge:        NewEdgeAnalyzer,
	DetectorMetadata:    NewMetadataAnalyzer,
}

// New returns the detector registered under name.
func New(name string, opts Options) (Analyzer, error) {
	c, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown detector %q", name)
	}
	return c(opts), nil
}

// All returns every detector in DetectorOrder.
func All(opts Options) []Analyzer {
	out := make([]Analyzer, 0, len(DetectorOrder))
	for _, name := range DetectorOrder {
		out = append(out, constructors[name](opts))
	}
	return out
}
