package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "15m" or "30s".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Config represents the complete map engine configuration
type Config struct {
	Services ServicesConfig `yaml:"services"`
	Export   ExportConfig   `yaml:"export"`
	Styles   StylesConfig   `yaml:"styles"`
}

// ServicesConfig holds the registry of ArcGIS services the engine talks to
type ServicesConfig struct {
	MetadataTTL     Duration     `yaml:"metadata_ttl"`
	GeometryService string       `yaml:"geometry_service"`
	Registry        []MapService `yaml:"registry"`
}

// MapService describes one named map service the engine can export from
type MapService struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	Tiled        bool   `yaml:"tiled"`
	PrintTaskURL string `yaml:"print_task_url"`
}

// ExportConfig holds default image and dispatch settings
type ExportConfig struct {
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	DPI             int           `yaml:"dpi"`
	Format          string        `yaml:"format"`
	LayoutTemplate  string        `yaml:"layout_template"`
	MarginPercent   float64       `yaml:"margin_percent"`
	BufferMiles     float64       `yaml:"buffer_miles"`
	OutputDir       string        `yaml:"output_dir"`
	RequestTimeout  Duration      `yaml:"request_timeout"`
	DispatchTimeout Duration      `yaml:"dispatch_timeout"`
	WriteKML        bool          `yaml:"write_kml"`
}

// StylesConfig holds the named style presets and the active default
type StylesConfig struct {
	Default string        `yaml:"default"`
	Presets []StylePreset `yaml:"presets"`
}

// StylePreset is a named bundle of overlay drawing parameters. Colors
// are RGBA channel values in the 0-255 range.
type StylePreset struct {
	Name         string  `yaml:"name"`
	FillColor    [4]int  `yaml:"fill_color"`
	OutlineColor [4]int  `yaml:"outline_color"`
	OutlineWidth float64 `yaml:"outline_width"`
	CircleDashed bool    `yaml:"circle_dashed"`
}

// ServiceByName looks up a registered map service.
func (s ServicesConfig) ServiceByName(name string) (MapService, bool) {
	for _, svc := range s.Registry {
		if svc.Name == name {
			return svc, true
		}
	}
	return MapService{}, false
}

// PresetByName looks up a style preset, falling back to the configured
// default preset when name is empty.
func (s StylesConfig) PresetByName(name string) (StylePreset, bool) {
	if name == "" {
		name = s.Default
	}
	for _, p := range s.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return StylePreset{}, false
}

// Load reads a YAML config file, layered over DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Services: ServicesConfig{
			MetadataTTL:     Duration(15 * time.Minute),
			GeometryService: "https://sampleserver6.arcgisonline.com/arcgis/rest/services/Utilities/Geometry/GeometryServer",
			Registry: []MapService{
				{
					Name:  "topo",
					URL:   "https://services.arcgisonline.com/arcgis/rest/services/USA_Topo_Maps/MapServer",
					Tiled: true,
				},
				{
					Name:  "imagery",
					URL:   "https://services.arcgisonline.com/arcgis/rest/services/World_Imagery/MapServer",
					Tiled: true,
					PrintTaskURL: "https://sampleserver6.arcgisonline.com/arcgis/rest/services/" +
						"Utilities/PrintingTools/GPServer/Export%20Web%20Map%20Task",
				},
			},
		},
		Export: ExportConfig{
			Width:           1100,
			Height:          850,
			DPI:             96,
			Format:          "PNG32",
			LayoutTemplate:  "MAP_ONLY",
			MarginPercent:   10,
			BufferMiles:     0.5,
			OutputDir:       ".",
			RequestTimeout:  Duration(15 * time.Second),
			DispatchTimeout: Duration(120 * time.Second),
			WriteKML:        false,
		},
		Styles: StylesConfig{
			Default: "standard",
			Presets: []StylePreset{
				{
					Name:         "standard",
					FillColor:    [4]int{255, 0, 0, 90},
					OutlineColor: [4]int{255, 0, 0, 255},
					OutlineWidth: 2,
					CircleDashed: true,
				},
				{
					Name:         "outline",
					FillColor:    [4]int{0, 0, 0, 0},
					OutlineColor: [4]int{255, 255, 0, 255},
					OutlineWidth: 3,
					CircleDashed: true,
				},
				{
					Name:         "subtle",
					FillColor:    [4]int{0, 90, 200, 60},
					OutlineColor: [4]int{0, 90, 200, 220},
					OutlineWidth: 1.5,
					CircleDashed: false,
				},
			},
		},
	}
}
