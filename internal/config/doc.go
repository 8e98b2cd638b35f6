// Package config handles configuration loading for coven-toolpool.
//
// # Overview
//
// The service reads two files: a YAML service configuration and a TOML
// target catalog the YAML points at. Both support environment variable
// expansion; duration values use Go's time.ParseDuration syntax.
//
// # Service Configuration
//
//	targets:
//	  path: "targets.toml"
//
//	pool:
//	  max_connections: 10
//	  max_idle: "5m"
//	  connect_timeout: "10s"
//	  acquire_timeout: "5s"
//	  health_check_interval: "30s"
//	  retry_attempts: 3
//	  retry_base_delay: "100ms"
//	  breaker_failure_threshold: 5
//	  breaker_recovery_timeout: "30s"
//
//	status:
//	  interval: "1m"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// The pool block sets global defaults; each catalog entry may override any
// subset of the same settings.
//
// # Target Catalog
//
//	[targets.search]
//	kind = "grpc"
//	address = "localhost:50061"
//
//	[targets.search.pool]
//	max_connections = 20
//	max_idle = "10m"
//
//	[targets.scratchpad]
//	kind = "stdio"
//	command = "/usr/local/bin/scratchpad-server"
//	args = ["--workdir", "/tmp"]
//
// # Environment Variable Expansion
//
// Values in both files can reference environment variables:
//
//	[targets.search]
//	kind = "grpc"
//	address = "${SEARCH_SERVER_ADDR}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to empty strings.
package config
