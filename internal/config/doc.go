// Package config handles configuration loading for tms-core.
//
// # Overview
//
// Configuration is loaded from a YAML file, or TOML when the file name ends in
// .toml, with environment variable expansion, environment overrides and
// validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TMS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/tms/core.yaml
//  3. ~/.config/tms/core.yaml
//
// # Environment Variables
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	enhanced:
//	  secret: "${TMS_CORE_SECRET}"
//
// These variables replace the file value outright when set, even to an
// empty string:
//
//	TMS_DB_PATH          database.path
//	TMS_ENHANCED_URL     enhanced.url
//	TMS_ENHANCED_SECRET  enhanced.secret
//	TMS_INSTANCE_ID      enhanced.instance_id
//	TMS_CRON_SECRET      cron.secret
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
//	tailscale:
//	  enabled: false
//	  hostname: "tms-core"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//
//	database:
//	  path: "/var/lib/tms/core.db"
//
//	auth:
//	  jwt_secret: "${TMS_JWT_SECRET}"   # dashboard session secret, >= 32 bytes
//
//	enhanced:
//	  url: ""            # empty: enhanced features not configured
//	  secret: ""
//	  instance_id: ""    # empty: generated once and stored
//	  timeout: "10s"
//
//	cron:
//	  secret: ""
//	  schedule: "*/5 * * * *"
//	  trigger_url: ""    # default: this server's /heartbeat-trigger
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  file: ""           # also write logs here
package config
