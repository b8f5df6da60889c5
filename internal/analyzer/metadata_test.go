package analyzer

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"go-receipt-forensics/internal/imaging/imagingtest"
)

type exifEntry struct {
	tag   uint16
	value string
}

// tiffBlock builds a little-endian TIFF with ASCII entries in IFD0 and an
// optional Exif sub-IFD.
func tiffBlock(ifd0, sub []exifEntry) []byte {
	const header = 8
	ifdSize := func(n int) int { return 2 + 12*n + 4 }

	n0 := len(ifd0)
	if len(sub) > 0 {
		n0++
	}
	subOffset := header + ifdSize(n0)
	dataOffset := subOffset
	if len(sub) > 0 {
		dataOffset += ifdSize(len(sub))
	}

	var data bytes.Buffer
	writeIFD := func(buf *bytes.Buffer, entries []exifEntry, pointer bool) {
		count := len(entries)
		if pointer {
			count++
		}
		binary.Write(buf, binary.LittleEndian, uint16(count))
		for _, e := range entries {
			s := e.value + "\x00"
			binary.Write(buf, binary.LittleEndian, e.tag)
			binary.Write(buf, binary.LittleEndian, uint16(2))
			binary.Write(buf, binary.LittleEndian, uint32(len(s)))
			binary.Write(buf, binary.LittleEndian, uint32(dataOffset+data.Len()))
			data.WriteString(s)
		}
		if pointer {
			binary.Write(buf, binary.LittleEndian, uint16(0x8769))
			binary.Write(buf, binary.LittleEndian, uint16(4))
			binary.Write(buf, binary.LittleEndian, uint32(1))
			binary.Write(buf, binary.LittleEndian, uint32(subOffset))
		}
		binary.Write(buf, binary.LittleEndian, uint32(0))
	}

	var out bytes.Buffer
	out.WriteString("II")
	binary.Write(&out, binary.LittleEndian, uint16(42))
	binary.Write(&out, binary.LittleEndian, uint32(header))
	writeIFD(&out, ifd0, len(sub) > 0)
	if len(sub) > 0 {
		writeIFD(&out, sub, false)
	}
	out.Write(data.Bytes())
	return out.Bytes()
}

// withExif splices an APP1 Exif segment after the JPEG SOI marker.
func withExif(jpegData, tiff []byte) []byte {
	var out bytes.Buffer
	out.Write(jpegData[:2])
	out.Write([]byte{0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(2+6+len(tiff)))
	out.WriteString("Exif\x00\x00")
	out.Write(tiff)
	out.Write(jpegData[2:])
	return out.Bytes()
}

func TestMetadataWithoutExif(t *testing.T) {
	clean, _ := fixtures(t)
	f, err := NewMetadataAnalyzer(DefaultOptions()).Analyze(context.Background(), clean, NopReporter())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Signal != 0.2 || f.Confidence != 1 {
		t.Errorf("signal/confidence = %f/%f, want 0.2/1", f.Signal, f.Confidence)
	}
	if f.Metrics["has_exif"] != 0 {
		t.Error("expected has_exif = 0")
	}
	if f.Map != nil {
		t.Error("metadata has no spatial map")
	}
}

func TestMetadataWithoutSource(t *testing.T) {
	img := imagingtest.RasterOf(imagingtest.Uniform(10, 10, 1))
	f, err := NewMetadataAnalyzer(DefaultOptions()).Analyze(context.Background(), img, NopReporter())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Confidence != 0 || f.Signal != 0 {
		t.Errorf("expected no evidence without source bytes, got %+v", f)
	}
}

func TestMetadataEditorSoftware(t *testing.T) {
	data := withExif(imagingtest.ControlJPEG(), tiffBlock([]exifEntry{
		{0x0131, "Adobe Photoshop 24.1"},
	}, nil))
	img := imagingtest.Raster(t, data)

	f, err := NewMetadataAnalyzer(DefaultOptions()).Analyze(context.Background(), img, NopReporter())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Signal != 1 {
		t.Errorf("signal = %f, want 1", f.Signal)
	}
	if f.Metrics["has_exif"] != 1 {
		t.Error("expected has_exif = 1")
	}
	if len(f.Techniques) != 1 || f.Techniques[0] != "Edited with Adobe Photoshop 24.1" {
		t.Errorf("techniques = %v", f.Techniques)
	}
}

func TestMetadataModifiedAfterCapture(t *testing.T) {
	data := withExif(imagingtest.ControlJPEG(), tiffBlock(
		[]exifEntry{
			{0x0131, "Camera Firmware 1.0"},
			{0x0132, "2024:03:05 12:30:00"},
		},
		[]exifEntry{
			{0x9003, "2024:03:05 12:00:00"},
		},
	))
	img := imagingtest.Raster(t, data)

	f, err := NewMetadataAnalyzer(DefaultOptions()).Analyze(context.Background(), img, NopReporter())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Signal != 0.5 {
		t.Errorf("signal = %f, want 0.5", f.Signal)
	}
	if f.Metrics["modified_after_capture_s"] != 1800 {
		t.Errorf("modified_after_capture_s = %f", f.Metrics["modified_after_capture_s"])
	}
}
