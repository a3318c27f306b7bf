// Package configs provides the embedded configuration templates the
// CLI writes out on first use.
//
// Templates are embedded at build time with //go:embed, so they ship
// inside the binary regardless of how it was installed. The layering
// they feed into is described in internal/config: built-in defaults,
// then the user config, then the vault's .vaultrag.yaml, then
// VAULTRAG_* environment overrides.
//
// To change a template, edit the .yaml file in this directory and
// rebuild.
package configs

import _ "embed"

// VaultConfigTemplate is the commented template for a vault-level
// .vaultrag.yaml, written by `vaultrag config --init` into the vault
// root. It holds settings that belong to the vault itself: ignore
// patterns, chunking bounds, search weights.
//
//go:embed vault-config.example.yaml
var VaultConfigTemplate string

// UserConfigTemplate is the template for the user-level config,
// written by `vaultrag config --init-user` to
// $XDG_CONFIG_HOME/vaultrag/config.yaml. It holds machine-specific
// settings that apply to every vault: provider endpoints, API key
// environment variables, the data directory.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
