// Package assets loads average faces, landmark files and the mesh topology,
// and resolves a demographic profile to the average face files for it.
package assets

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/andresmejia3/facemorph/internal/geom"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// LoadImage decodes a PNG, JPEG, GIF, BMP, TIFF or WebP file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// ReadPoints decodes a landmark list: [[x, y], ...].
func ReadPoints(r io.Reader) (geom.PointSet, error) {
	var raw [][2]float64
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode landmarks: %w", err)
	}
	points := make(geom.PointSet, len(raw))
	for i, p := range raw {
		points[i] = geom.Point{X: p[0], Y: p[1]}
	}
	if err := points.Validate(); err != nil {
		return nil, err
	}
	return points, nil
}

// LoadPoints reads a landmark file.
func LoadPoints(path string) (geom.PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	points, err := ReadPoints(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// ReadTopology decodes a triangle list: [[i, j, k], ...].
func ReadTopology(r io.Reader) (geom.Topology, error) {
	var topo geom.Topology
	if err := json.NewDecoder(r).Decode(&topo); err != nil {
		return nil, fmt.Errorf("failed to decode topology: %w", err)
	}
	if err := topo.Validate(topo.MaxIndex() + 1); err != nil {
		return nil, err
	}
	return topo, nil
}

// LoadTopology reads a topology file.
func LoadTopology(path string) (geom.Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	topo, err := ReadTopology(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topo, nil
}
