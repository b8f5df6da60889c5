package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"go-receipt-forensics/internal/imaging"
)

const exifTimeLayout = "2006:01:02 15:04:05"

// editorSignatures are substrings of EXIF Software values written by
// image editors.
var editorSignatures = []string{"photoshop", "gimp", "paint", "canva", "pixlr", "snapseed", "picsart"}

// metadataAnalyzer reads the EXIF block of the original upload. It has no
// spatial output.
type metadataAnalyzer struct{}

// NewMetadataAnalyzer creates the EXIF metadata detector
func NewMetadataAnalyzer(Options) Analyzer {
	return metadataAnalyzer{}
}

func (metadataAnalyzer) Name() string { return DetectorMetadata }

func (metadataAnalyzer) Analyze(ctx context.Context, img *imaging.Raster, report Reporter) (*Finding, error) {
	f := newFinding(DetectorMetadata)
	if !img.HasSource() {
		f.Confidence = 0
		f.Note = "original bytes unavailable"
		return f, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x, err := exif.Decode(img.SourceReader())
	if err != nil {
		f.Signal = 0.2
		f.Metrics["has_exif"] = 0
		f.Techniques = append(f.Techniques, "No EXIF metadata (may be stripped)")
		return f, nil
	}
	f.Metrics["has_exif"] = 1
	report.Report("exif decoded", nil)

	if tag, err := x.Get(exif.Software); err == nil {
		if software, err := tag.StringVal(); err == nil {
			lower := strings.ToLower(software)
			for _, sig := range editorSignatures {
				if strings.Contains(lower, sig) {
					f.Signal = 1
					f.Techniques = append(f.Techniques, fmt.Sprintf("Edited with %s", strings.TrimSpace(software)))
					break
				}
			}
		}
	}

	original, errOrig := exifTime(x, exif.DateTimeOriginal)
	modified, errMod := exifTime(x, exif.DateTime)
	if errOrig == nil && errMod == nil && modified.After(original) {
		if f.Signal < 0.5 {
			f.Signal = 0.5
		}
		f.Metrics["modified_after_capture_s"] = modified.Sub(original).Seconds()
		f.Techniques = append(f.Techniques, "Modified after capture")
	}
	return f, nil
}

func exifTime(x *exif.Exif, name exif.FieldName) (time.Time, error) {
	tag, err := x.Get(name)
	if err != nil {
		return time.Time{}, err
	}
	s, err := tag.StringVal()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(exifTimeLayout, strings.TrimRight(strings.TrimSpace(s), "\x00"))
}
