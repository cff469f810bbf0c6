package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ecopia-map/cesium_tile_baker/internal/geometry"
	"github.com/ecopia-map/cesium_tile_baker/tools"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "JSON"
	FormatYAML Format = "YAML"

	baseName = "manifest"

	// decimal places kept for translations (0.1 mm) and geodetic degrees
	translationPlaces = 4
	degreePlaces      = 9
)

func (f Format) String() string {
	return string(f)
}

func (f Format) extension() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

func ParseFormat(value string) Format {
	switch strings.Trim(strings.ToUpper(value), " ") {
	case "JSON":
		return FormatJSON
	case "YAML", "YML":
		return FormatYAML
	}
	return ""
}

// Origin is the shared ECEF origin. ECEF coordinates are kept as exact decimals so
// a later run can reuse the very same value.
type Origin struct {
	X      decimal.Decimal `json:"x" yaml:"x"`
	Y      decimal.Decimal `json:"y" yaml:"y"`
	Z      decimal.Decimal `json:"z" yaml:"z"`
	Lat    float64         `json:"lat" yaml:"lat"`
	Lng    float64         `json:"lng" yaml:"lng"`
	Height float64         `json:"height" yaml:"height"`
}

func NewOrigin(point mgl64.Vec3, geodetic geometry.Geodetic) *Origin {
	return &Origin{
		X:      decimal.NewFromFloat(point[0]),
		Y:      decimal.NewFromFloat(point[1]),
		Z:      decimal.NewFromFloat(point[2]),
		Lat:    round(geodetic.Lat, degreePlaces),
		Lng:    round(geodetic.Lng, degreePlaces),
		Height: round(geodetic.Height, translationPlaces),
	}
}

// ECEF returns the origin as a vector
func (o *Origin) ECEF() mgl64.Vec3 {
	return mgl64.Vec3{o.X.InexactFloat64(), o.Y.InexactFloat64(), o.Z.InexactFloat64()}
}

type Region struct {
	Lat    float64 `json:"lat" yaml:"lat"`
	Lng    float64 `json:"lng" yaml:"lng"`
	Radius float64 `json:"radius" yaml:"radius"`
}

// Tile is one output file. Translation is the offset of the tile from the origin in the output frame.
type Tile struct {
	Filename    string     `json:"filename" yaml:"filename"`
	Source      string     `json:"source,omitempty" yaml:"source,omitempty"`
	Translation [3]float64 `json:"translation" yaml:"translation,flow"`
	Copyright   string     `json:"copyright,omitempty" yaml:"copyright,omitempty"`
}

type Failure struct {
	Source string `json:"source" yaml:"source"`
	Kind   string `json:"kind" yaml:"kind"`
	Error  string `json:"error" yaml:"error"`
}

type Manifest struct {
	RunID      string    `json:"runId" yaml:"runId"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
	Region     *Region   `json:"region,omitempty" yaml:"region,omitempty"`
	Origin     *Origin   `json:"origin,omitempty" yaml:"origin,omitempty"`
	Written    []Tile    `json:"written" yaml:"written"`
	Skipped    []Tile    `json:"skipped" yaml:"skipped"`
	Copyrights []string  `json:"copyrights" yaml:"copyrights"`
	Failures   []Failure `json:"failures" yaml:"failures"`
}

// Filenames lists every output file of the run, written or skipped, sorted
func (m *Manifest) Filenames() []string {
	names := make([]string, 0, len(m.Written)+len(m.Skipped))
	for _, t := range m.Written {
		names = append(names, t.Filename)
	}
	for _, t := range m.Skipped {
		names = append(names, t.Filename)
	}
	sort.Strings(names)
	return names
}

// Builder accumulates tile outcomes from concurrent workers
type Builder struct {
	mu       sync.Mutex
	runID    string
	region   *Region
	previous map[string]Tile
	written  []Tile
	skipped  []Tile
	failures []Failure
}

// NewBuilder starts a manifest. Records of a previous manifest fill in the
// translation and copyright of files this run skips.
func NewBuilder(region *Region, previous *Manifest) *Builder {
	b := &Builder{
		runID:    uuid.New().String(),
		region:   region,
		previous: make(map[string]Tile),
	}
	if previous != nil {
		for _, list := range [][]Tile{previous.Written, previous.Skipped} {
			for _, t := range list {
				b.previous[t.Filename] = t
			}
		}
	}
	return b
}

func (b *Builder) RunID() string {
	return b.runID
}

func (b *Builder) AddWritten(filename, source string, translation mgl64.Vec3, copyright string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.written = append(b.written, Tile{
		Filename: filename,
		Source:   source,
		Translation: [3]float64{
			round(translation[0], translationPlaces),
			round(translation[1], translationPlaces),
			round(translation[2], translationPlaces),
		},
		Copyright: copyright,
	})
}

func (b *Builder) AddSkipped(filename, source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tile := Tile{Filename: filename, Source: source}
	if prev, ok := b.previous[filename]; ok {
		tile.Translation = prev.Translation
		tile.Copyright = prev.Copyright
	}
	b.skipped = append(b.skipped, tile)
}

func (b *Builder) AddFailure(source, kind string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, Failure{Source: source, Kind: kind, Error: err.Error()})
}

func (b *Builder) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.failures)
}

// Build returns the manifest with tiles sorted by file name and copyrights deduplicated
func (b *Builder) Build(origin *Origin) *Manifest {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := &Manifest{
		RunID:     b.runID,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Region:    b.region,
		Origin:    origin,
		Written:   append([]Tile{}, b.written...),
		Skipped:   append([]Tile{}, b.skipped...),
		Failures:  append([]Failure{}, b.failures...),
	}
	sortTiles(m.Written)
	sortTiles(m.Skipped)
	sort.Slice(m.Failures, func(i, j int) bool { return m.Failures[i].Source < m.Failures[j].Source })

	seen := make(map[string]bool)
	m.Copyrights = []string{}
	for _, list := range [][]Tile{m.Written, m.Skipped} {
		for _, t := range list {
			for _, c := range strings.Split(t.Copyright, ";") {
				c = strings.TrimSpace(c)
				if c != "" && !seen[c] {
					seen[c] = true
					m.Copyrights = append(m.Copyrights, c)
				}
			}
		}
	}
	sort.Strings(m.Copyrights)
	return m
}

func sortTiles(tiles []Tile) {
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].Filename < tiles[j].Filename })
}

// Write stores the manifest in dir and returns its path
func Write(dir string, format Format, m *Manifest) (string, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(m)
	default:
		format = FormatJSON
		data, err = json.MarshalIndent(m, "", "  ")
	}
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	path := filepath.Join(dir, baseName+format.extension())
	if err := tools.WriteFileAtomic(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads the manifest left in dir by an earlier run. It returns nil and no error when there is none.
func Load(dir string) (*Manifest, error) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		path := filepath.Join(dir, baseName+format.extension())
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		m := new(Manifest)
		if format == FormatYAML {
			err = yaml.Unmarshal(data, m)
		} else {
			err = json.Unmarshal(data, m)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return m, nil
	}
	return nil, nil
}

func round(value float64, places int32) float64 {
	return decimal.NewFromFloat(value).Round(places).InexactFloat64()
}
