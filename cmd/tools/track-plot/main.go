// Package main renders a track geometry bundle to a PNG for visual
// inspection: centerline plus inner and outer edges, with axis extents
// taken from the bundle.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/gridline-data/gridline.replay/internal/telemetry"
)

func main() {
	input := flag.String("in", "", "Geometry bundle JSON file (default: stdin)")
	output := flag.String("out", "track.png", "Output PNG path")
	title := flag.String("title", "", "Plot title")
	width := flag.Float64("width", 8, "Plot width in inches")
	flag.Parse()

	bundle, err := readBundle(*input)
	if err != nil {
		log.Fatalf("reading geometry: %v", err)
	}
	if err := render(bundle, *output, *title, *width); err != nil {
		log.Fatalf("rendering: %v", err)
	}
	fmt.Printf("wrote %s\n", *output)
}

func readBundle(path string) (*telemetry.TrackGeometryBundle, error) {
	r := os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var bundle telemetry.TrackGeometryBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, err
	}
	if len(bundle.CenterlineX) == 0 {
		return nil, fmt.Errorf("bundle has no centerline")
	}
	return &bundle, nil
}

func render(bundle *telemetry.TrackGeometryBundle, path, title string, width float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Min, p.X.Max = bundle.XMin, bundle.XMax
	p.Y.Min, p.Y.Max = bundle.YMin, bundle.YMax
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	for _, edge := range []struct {
		xs, ys []float64
	}{
		{bundle.OuterX, bundle.OuterY},
		{bundle.InnerX, bundle.InnerY},
		{bundle.CenterlineX, bundle.CenterlineY},
	} {
		line, err := plotter.NewLine(xyPoints(edge.xs, edge.ys))
		if err != nil {
			return err
		}
		p.Add(line)
	}

	// Preserve aspect ratio so corners are not distorted.
	height := width
	if dx, dy := bundle.XMax-bundle.XMin, bundle.YMax-bundle.YMin; dx > 0 && dy > 0 {
		height = width * dy / dx
	}
	return p.Save(vg.Length(width)*vg.Inch, vg.Length(height)*vg.Inch, path)
}

func xyPoints(xs, ys []float64) plotter.XYs {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	return pts
}
