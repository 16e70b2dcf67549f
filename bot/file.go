package bot

import (
	"fmt"
	"os"

	"github.com/dnldd/candlebot/shared"
	"gopkg.in/yaml.v3"
)

// File describes a bot created at boot.
type File struct {
	// Name is the bot name.
	Name string `yaml:"name"`
	// Config is the bot config.
	Config Config `yaml:"config"`
}

// LoadFile reads a yaml bot file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bot file: %w", err)
	}

	var file File
	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding bot file: %w", shared.ErrValidation, err)
	}

	if file.Name == "" {
		return nil, fmt.Errorf("%w: bot file %s has no bot name", shared.ErrValidation, path)
	}

	file.Config.ApplyDefaults()
	if err := file.Config.Validate(); err != nil {
		return nil, err
	}

	return &file, nil
}
