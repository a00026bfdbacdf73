// Copyright (C) 2025 lattice-chat
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads the exhaustive recognized-option set for the
// lattice daemons: listeners, storage
// location, key material, and federation peers. Any field present in
// a config file that config.Config does not declare is a fatal error
// ("any unknown field in the config is a fatal error").
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the exhaustive set of recognized options.
// Every field is present here whether or not a given process role
// uses it; role-specific validation happens in Validate.
type Config struct {
	Listen       string   `yaml:"listen"`
	TcpListen    string   `yaml:"tcp_listen"`
	Lz4tcpListen string   `yaml:"lz4tcp_listen"`
	DbPath       string   `yaml:"db_path"`
	SigningSk    string   `yaml:"signing_sk"`
	ServerName   string   `yaml:"server_name"`
	PublicUrls   []string `yaml:"public_urls"`
	DirectoryUrl string   `yaml:"directory_url"`
	DirectoryPk  string   `yaml:"directory_pk"`
	Mirror       string   `yaml:"mirror"`

	// Postgres connection fields for the home server's store (not in
	// required to open server.Store).
	PgHost     string `yaml:"pg_host"`
	PgPort     int    `yaml:"pg_port"`
	PgUser     string `yaml:"pg_user"`
	PgPassword string `yaml:"pg_password"`
	PgDatabase string `yaml:"pg_database"`
	PgSSLMode  string `yaml:"pg_sslmode"`
}

// Load reads and strictly decodes the YAML config file at path. It
// rejects any field the file contains that Config does not declare,
// godotenv.Load (see env.go) should run before Load if
// the caller wants `signing_sk`/`directory_pk` sourced from a .env
// file instead of the config file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ValidateDirectory checks the fields required by a directory
// process: db_path is always required, and exactly one of signing_sk
// (primary mode) or mirror (follower mode) must be set — the two
// roles are mutually exclusive.
func (c *Config) ValidateDirectory() error {
	if c.DbPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.Listen == "" {
		return fmt.Errorf("config: listen is required")
	}
	havePrimary := c.SigningSk != ""
	haveMirror := c.Mirror != ""
	if havePrimary == haveMirror {
		return fmt.Errorf("config: exactly one of signing_sk or mirror must be set")
	}
	return nil
}

// ValidateClient checks the fields required by a client daemon: the
// local RPC listener, the SQLite path, and the directory to resolve
// and verify against.
func (c *Config) ValidateClient() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen is required")
	}
	if c.DbPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.DirectoryUrl == "" {
		return fmt.Errorf("config: directory_url is required")
	}
	if c.DirectoryPk == "" {
		return fmt.Errorf("config: directory_pk is required")
	}
	return nil
}

// ValidateServer checks the fields required by a home-server process.
func (c *Config) ValidateServer() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen is required")
	}
	if c.DbPath == "" && c.PgDatabase == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.SigningSk == "" {
		return fmt.Errorf("config: signing_sk is required")
	}
	if c.ServerName == "" {
		return fmt.Errorf("config: server_name is required")
	}
	if len(c.PublicUrls) == 0 {
		return fmt.Errorf("config: public_urls is required")
	}
	if c.DirectoryUrl == "" {
		return fmt.Errorf("config: directory_url is required")
	}
	if c.DirectoryPk == "" {
		return fmt.Errorf("config: directory_pk is required")
	}
	return nil
}
