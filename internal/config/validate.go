package config

import (
	"fmt"
	"strings"

	"github.com/joshuapare/paramkit/flash"
	"github.com/joshuapare/paramkit/storage"
)

// Validate checks configuration correctness.
// It performs declarative validation only and never mutates cfg; fields
// left zero are checked against the defaults Normalize would apply.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	// ------------------------------------------------------------
	// LOGGING
	// ------------------------------------------------------------

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", cfg.Log.Format)
	}

	// ------------------------------------------------------------
	// INTERNAL MEDIUM
	// ------------------------------------------------------------

	in := cfg.Internal
	size := in.Size
	if size == 0 {
		size = DefaultInternalSize
	}
	if err := validateMedium("internal", storage.Internal, in, size); err != nil {
		return err
	}

	// ------------------------------------------------------------
	// EXTERNAL MEDIUM (OPTIONAL)
	// ------------------------------------------------------------

	ext := cfg.External
	if ext == nil {
		return nil
	}
	code, ok := ext.ChipCode()
	if !ok {
		return fmt.Errorf("external: unknown chip %q", ext.Chip)
	}
	desc, err := flash.W25QDevice(code, nil)
	if err != nil {
		return fmt.Errorf("external: %w", err)
	}
	if ext.Size != 0 && ext.Size != desc.TotalSize {
		return fmt.Errorf("external: size %d does not match %s capacity %d",
			ext.Size, strings.ToUpper(ext.Chip), desc.TotalSize)
	}
	if ext.SectorSize != 0 && ext.SectorSize != desc.SectorSize {
		return fmt.Errorf("external: sector_size %d, %s erases %d-byte sectors",
			ext.SectorSize, strings.ToUpper(ext.Chip), desc.SectorSize)
	}
	if err := validateMedium("external", storage.External, ext.MediumConfig, desc.TotalSize); err != nil {
		return err
	}
	if imageOr(ext.Image, DefaultExternalImage) == imageOr(in.Image, DefaultInternalImage) {
		return fmt.Errorf("external: image %q is shared with the internal medium", ext.Image)
	}
	return nil
}

func validateMedium(name string, m storage.Medium, mc MediumConfig, size uint32) error {
	sector := mc.SectorSize
	if sector == 0 {
		sector = storage.DefaultSectorSize
	}
	if size%sector != 0 {
		return fmt.Errorf("%s: size %d is not a multiple of sector_size %d", name, size, sector)
	}
	if err := mc.Layout.StorageLayout(m, sector).Validate(size, sector); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func imageOr(image, def string) string {
	if image == "" {
		return def
	}
	return image
}
