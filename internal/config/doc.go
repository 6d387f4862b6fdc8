// Package config loads the duotronicsd daemon configuration from a YAML or JSON
// file, applies environment overrides and fills defaults. It does not hold the
// hemisphere settings themselves; those live behind hemisphere.Store.
package config
