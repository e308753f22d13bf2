// Package config handles configuration loading for talent-horizon.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files ending in .toml are decoded as TOML; everything else is
// treated as YAML. Missing values receive defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TALENT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/talent-horizon/config.yaml
//  3. ~/.config/talent-horizon/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TALENT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
// TALENT_DB_PATH, when set, replaces database.path after parsing.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  read_header_timeout: "10s"
//	  shutdown_timeout: "5s"
//
//	database:
//	  driver: "sqlite"            # sqlite, postgres
//	  path: "./talent.db"         # sqlite
//	  dsn: "postgres://..."       # postgres
//	  max_open_conns: 10
//
//	auth:
//	  jwt_secret: "${TALENT_JWT_SECRET}"   # empty = trusted header mode
//	  token_ttl: "24h"
//	  trusted_header: "X-Identity-ID"
//
//	messaging:
//	  preview_length: 50
//	  search_limit: 10
//	  idempotency_ttl: "10m"
//	  idempotency_max_keys: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// The same layout in TOML uses [server], [database] and so on as tables.
//
// # Usage
//
//	cfg, err := config.Load("/etc/talent-horizon/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
