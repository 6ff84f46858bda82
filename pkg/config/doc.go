// Package config loads the proxywatch YAML configuration file.
package config
