package main

import (
	"errors"
	"fmt"

	"github.com/joshuapare/paramkit/flash"
	"github.com/joshuapare/paramkit/internal/logger"
	"github.com/joshuapare/paramkit/storage"
)

// session is an engine mounted over the configured image files.
type session struct {
	eng   *storage.Engine
	files []*flash.File
}

// selectedMedium parses --medium.
func selectedMedium() (storage.Medium, error) {
	return storage.ParseMedium(mediumName)
}

// openSession opens the image files of the media in mask and mounts them.
// Init failures are returned only when no requested medium came up; the
// monitor reports the rest.
func openSession(mask storage.EnableMask) (*session, error) {
	s := &session{}
	opts := []storage.Option{
		storage.WithLogger(logger.L),
		storage.WithLayout(storage.Internal,
			cfg.Internal.Layout.StorageLayout(storage.Internal, cfg.Internal.SectorSize)),
	}

	var internal flash.Device
	if mask.Has(storage.Internal) {
		printVerbose("Opening internal image: %s\n", cfg.Internal.Image)
		f, err := flash.OpenFile(cfg.Internal.Image, cfg.Internal.Size, cfg.Internal.SectorSize, flash.ProductID{})
		if err != nil {
			return nil, fmt.Errorf("failed to open internal image: %w", err)
		}
		s.files = append(s.files, f)
		internal = f
	}

	var ext *flash.ExtDevice
	if mask.Has(storage.External) {
		ec := cfg.External
		if ec == nil {
			s.Close()
			return nil, errors.New("external medium is not configured")
		}
		code, ok := ec.ChipCode()
		if !ok {
			s.Close()
			return nil, fmt.Errorf("external: unknown chip %q", ec.Chip)
		}
		printVerbose("Opening external image: %s (%s)\n", ec.Image, ec.Chip)
		f, err := flash.OpenFile(ec.Image, ec.Size, ec.SectorSize,
			flash.ProductID{Type: flash.WinbondManufacturer, Code: code})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open external image: %w", err)
		}
		s.files = append(s.files, f)
		if ext, err = flash.W25QDevice(code, f); err != nil {
			s.Close()
			return nil, err
		}
		opts = append(opts, storage.WithLayout(storage.External,
			ec.Layout.StorageLayout(storage.External, ec.SectorSize)))
	}

	s.eng = storage.New(internal, opts...)
	if err := s.eng.Init(mask, ext); err != nil {
		if s.eng.Monitor().Initialized == 0 {
			s.Close()
			return nil, fmt.Errorf("failed to mount: %w", err)
		}
		logger.Warn("partial mount", "err", err)
	}
	return s, nil
}

// openSelected mounts only the medium named by --medium.
func openSelected() (*session, storage.Medium, error) {
	m, err := selectedMedium()
	if err != nil {
		return nil, 0, err
	}
	mask := storage.EnableInternal
	if m == storage.External {
		mask = storage.EnableExternal
	}
	s, err := openSession(mask)
	return s, m, err
}

// Close flushes and closes every image file.
func (s *session) Close() error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Sync(), f.Close())
	}
	return errors.Join(errs...)
}
