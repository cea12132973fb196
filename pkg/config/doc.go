// Package config provides configuration management for Lethe.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("lethe.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("lethe.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention LETHE_SECTION_FIELD.
// For example:
//
//   - LETHE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - LETHE_STORAGE_SQLITE_PATH overrides storage.sqlite.path
//   - LETHE_SCHEDULER_WORKERS overrides scheduler.workers
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Cron expressions are checked with the same parser the scheduler uses, so a
// configuration that loads will also schedule.
//
// # Example Configuration
//
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: /var/lib/lethe/state.db
//
//	catalog:
//	  file_path: /etc/lethe/catalog.yaml
//	  watch: true
//
//	scheduler:
//	  shards_per_category: 8
//
//	erasure:
//	  sql:
//	    - name: primary
//	      driver: sqlite
//	      dsn: file:/var/lib/app/app.db
//	      table: events
//	  redis:
//	    - name: session-cache
//	      address: localhost:6379
//	      key_templates: ["session:{record_id}"]
//
// A loaded Config is passed explicitly to the components that need it and is
// not modified after startup.
package config
