// Package config loads the paramctl configuration: which media to open,
// where their images live, how they are laid out and how to log.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/paramkit/flash"
	"github.com/joshuapare/paramkit/internal/format"
	"github.com/joshuapare/paramkit/storage"
)

type Config struct {
	Log      LogConfig       `yaml:"log"`
	Internal MediumConfig    `yaml:"internal"`
	External *ExternalConfig `yaml:"external"` // optional
}

// ---- LOGGING ----

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Dir    string `yaml:"dir"`    // empty logs to stderr
}

// ---- MEDIA ----

type MediumConfig struct {
	Image      string        `yaml:"image"`
	Size       uint32        `yaml:"size"`
	SectorSize uint32        `yaml:"sector_size"`
	Layout     *LayoutConfig `yaml:"layout"` // nil uses the engine default
}

type ExternalConfig struct {
	MediumConfig `yaml:",inline"`

	// Chip names the W25Qxx part, e.g. "W25Q16". Size follows from it.
	Chip string `yaml:"chip"`
}

// ---- LAYOUT ----

type LayoutConfig struct {
	Base   uint32        `yaml:"base"`
	Boot   SectionConfig `yaml:"boot"`
	System SectionConfig `yaml:"system"`
	User   SectionConfig `yaml:"user"`
}

// SectionConfig sizes one class in sectors.
type SectionConfig struct {
	Table uint32 `yaml:"table"`
	Data  uint32 `yaml:"data"`
}

// Defaults applied by Normalize.
const (
	DefaultInternalImage = "params-internal.bin"
	DefaultExternalImage = "params-external.bin"
	DefaultInternalSize  = 128 * 1024
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Load reads and decodes the YAML file at path. Unknown keys are rejected.
// An empty file yields the zero Config. Load neither validates nor
// normalizes; callers run Validate then Normalize.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode is Load for an already open reader.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Default returns the normalized configuration used without a config file.
func Default() *Config {
	cfg := &Config{}
	Normalize(cfg)
	return cfg
}

// chips maps the accepted external part names to their device codes.
var chips = map[string]uint16{
	"W25Q16":  flash.W25Q16,
	"W25Q32":  flash.W25Q32,
	"W25Q64":  flash.W25Q64,
	"W25Q128": flash.W25Q128,
	"W25Q256": flash.W25Q256,
}

// ChipCode returns the W25Qxx device code of the configured chip.
func (e *ExternalConfig) ChipCode() (uint16, bool) {
	code, ok := chips[strings.ToUpper(e.Chip)]
	return code, ok
}

// StorageLayout converts l to the engine's layout for a medium whose erase
// unit is sector. A nil l returns the engine default for m.
func (l *LayoutConfig) StorageLayout(m storage.Medium, sector uint32) storage.Layout {
	if l == nil {
		def := storage.DefaultInternalLayout()
		if m == storage.External {
			def = storage.DefaultExternalLayout()
		}
		def.SectorSize = sector
		return def
	}
	return storage.Layout{
		BaseAddr:   l.Base,
		SectorSize: sector,
		Sections: [format.NumSections]storage.SectionLayout{
			storage.Boot:   {TableSectors: l.Boot.Table, DataSectors: l.Boot.Data},
			storage.System: {TableSectors: l.System.Table, DataSectors: l.System.Data},
			storage.User:   {TableSectors: l.User.Table, DataSectors: l.User.Data},
		},
	}
}
