package env

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load reads an environment declaration from a TOML file.
//
// A relative compose_file path is resolved against the directory that holds
// the environment file, so a checked-in stagekit.toml can sit next to its
// docker-compose.yml.
func Load(path string) (Environment, error) {
	var e Environment
	if _, err := toml.DecodeFile(path, &e); err != nil {
		return Environment{}, fmt.Errorf("decode environment file: %w", err)
	}
	if e.ComposeFile != "" && !filepath.IsAbs(e.ComposeFile) {
		e.ComposeFile = filepath.Join(filepath.Dir(path), e.ComposeFile)
	}
	if err := e.Validate(); err != nil {
		return Environment{}, fmt.Errorf("invalid environment file %s: %w", path, err)
	}
	return e, nil
}
