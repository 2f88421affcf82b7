package config

import (
	"strings"

	"github.com/joshuapare/paramkit/flash"
	"github.com/joshuapare/paramkit/storage"
)

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	in := &cfg.Internal
	in.Image = imageOr(in.Image, DefaultInternalImage)
	if in.Size == 0 {
		in.Size = DefaultInternalSize
	}
	if in.SectorSize == 0 {
		in.SectorSize = storage.DefaultSectorSize
	}

	ext := cfg.External
	if ext == nil {
		return
	}
	ext.Chip = strings.ToUpper(ext.Chip)
	ext.Image = imageOr(ext.Image, DefaultExternalImage)
	if code, ok := ext.ChipCode(); ok {
		if desc, err := flash.W25QDevice(code, nil); err == nil {
			ext.Size = desc.TotalSize
			ext.SectorSize = desc.SectorSize
		}
	}
}
