// Package config loads relay configuration from an optional YAML file
// and the environment. Environment variables always win, so a deployment
// can ship a baseline file and override per host.
package config
