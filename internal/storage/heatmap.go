package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"go-receipt-forensics/internal/numeric"
)

// heatmapCell is the rendered size of one heatmap cell in pixels.
const heatmapCell = 8

// RenderHeatmap draws a heatmap grid as a PNG with cell x cell pixels per
// value, ramping from black through red to yellow.
func RenderHeatmap(values [][]float64, cell int) ([]byte, error) {
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, fmt.Errorf("empty heatmap")
	}
	if cell < 1 {
		cell = 1
	}
	rows, cols := len(values), len(values[0])
	img := image.NewRGBA(image.Rect(0, 0, cols*cell, rows*cell))
	for r, row := range values {
		if len(row) != cols {
			return nil, fmt.Errorf("ragged heatmap row %d: %d != %d", r, len(row), cols)
		}
		for c, v := range row {
			col := ramp(numeric.Clamp01(numeric.Finite(v)))
			for y := r * cell; y < (r+1)*cell; y++ {
				for x := c * cell; x < (c+1)*cell; x++ {
					img.SetRGBA(x, y, col)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ramp(v float64) color.RGBA {
	if v < 0.5 {
		return color.RGBA{R: uint8(v * 2 * 255), A: 255}
	}
	return color.RGBA{R: 255, G: uint8((v - 0.5) * 2 * 255), A: 255}
}
