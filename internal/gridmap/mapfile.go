package gridmap

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNoMap is returned when a map source has nothing at the requested index.
var ErrNoMap = errors.New("gridmap: no map at index")

// MapSource fetches a full occupancy grid by index. The process blocks on
// this once at startup.
type MapSource interface {
	FetchMap(ctx context.Context, index int) (*Grid, error)
}

// MapMetadata is the map_server YAML document describing a map image.
type MapMetadata struct {
	Image          string    `yaml:"image"`
	Resolution     float64   `yaml:"resolution"`
	Origin         []float64 `yaml:"origin"`
	Negate         int       `yaml:"negate"`
	OccupiedThresh float64   `yaml:"occupied_thresh"`
	FreeThresh     float64   `yaml:"free_thresh"`
}

// FileMapSource serves maps from a list of YAML metadata files; the index
// selects the file.
type FileMapSource struct {
	Paths []string
}

// FetchMap loads the map at Paths[index].
func (s FileMapSource) FetchMap(ctx context.Context, index int) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(s.Paths) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrNoMap, index, len(s.Paths))
	}
	return LoadMapFile(s.Paths[index])
}

// LoadMapFile reads a YAML metadata file and the image it references. A
// relative image path is resolved against the YAML file's directory.
func LoadMapFile(path string) (*Grid, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read map metadata: %w", err)
	}

	var meta MapMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse map metadata: %w", err)
	}
	if meta.Image == "" {
		return nil, fmt.Errorf("map metadata %s has no image", path)
	}
	if meta.OccupiedThresh == 0 {
		meta.OccupiedThresh = 0.65
	}
	if meta.FreeThresh == 0 {
		meta.FreeThresh = 0.196
	}

	imgPath := meta.Image
	if !filepath.IsAbs(imgPath) {
		imgPath = filepath.Join(filepath.Dir(path), imgPath)
	}
	f, err := os.Open(imgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open map image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode map image: %w", err)
	}
	return GridFromImage(img, meta)
}

// GridFromImage classifies each pixel by its occupancy probability. Image
// row 0 is the top of the map, grid row 0 the bottom.
func GridFromImage(img image.Image, meta MapMetadata) (*Grid, error) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	var origin Origin
	if len(meta.Origin) > 0 {
		origin.X = meta.Origin[0]
	}
	if len(meta.Origin) > 1 {
		origin.Y = meta.Origin[1]
	}
	if len(meta.Origin) > 2 {
		origin.Yaw = meta.Origin[2]
	}

	raw := make([]int8, width*height)
	for row := 0; row < height; row++ {
		iy := height - 1 - row
		for col := 0; col < width; col++ {
			gray := color.GrayModel.Convert(img.At(b.Min.X+col, b.Min.Y+row)).(color.Gray)
			p := float64(255-gray.Y) / 255.0
			if meta.Negate != 0 {
				p = float64(gray.Y) / 255.0
			}
			v := CellUnknown
			switch {
			case p > meta.OccupiedThresh:
				v = CellOccupied
			case p < meta.FreeThresh:
				v = CellFree
			}
			raw[iy*width+col] = v
		}
	}
	return New(width, height, meta.Resolution, origin, raw)
}
