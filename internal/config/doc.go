// Package config loads the YAML configuration, applies CIMON_* environment
// overrides and watches the file for changes so the project list can be
// reloaded without a restart.
package config
