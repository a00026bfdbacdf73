// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotenv optionally loads a .env file at path (if it exists) into
// the process environment, letting deployment tooling supply secrets
// via environment rather than committed config files. A missing file
// is not an error; a malformed one is.
func LoadDotenv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnvOverrides overlays LATTICE_SIGNING_SK / LATTICE_DIRECTORY_PK
// environment variables onto cfg when set, so secrets never need to
// live in the YAML file on disk.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LATTICE_SIGNING_SK"); v != "" {
		cfg.SigningSk = v
	}
	if v := os.Getenv("LATTICE_DIRECTORY_PK"); v != "" {
		cfg.DirectoryPk = v
	}
}
