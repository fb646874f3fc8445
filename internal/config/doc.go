// Package config handles configuration loading for assistant-relay.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Every optional setting has a default applied after parsing.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ASSISTANT_RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/assistant-relay/relay.yaml
//  3. ~/.config/assistant-relay/relay.yaml
//
// A path ending in .toml is decoded with BurntSushi/toml; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	assistant:
//	  api_key: "${OPENAI_API_KEY}"
//	  assistant_id: "${ASSISTANT_ID}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax. A zero or omitted
// duration takes its default:
//
//	relay:
//	  welcome_gap: "500ms"
//	  polling:
//	    initial_delay: "2s"
//	    interval: "3s"
//	    max_attempts: 15
//	    rate_limit_cooldown: "5s"
//	    poll_timeout: "10s"
//	    rate_limit_counts_as_attempt: true
//
// # Sessions
//
//	session:
//	  backend: "redis"          # memory, sqlite, postgres, redis
//	  ttl: "12h"
//	  sliding_ttl: false
//	  key_prefix: ""
//	  frontend_namespaces: true  # false keeps bare user ids as keys
//	  redis_url: "${REDIS_URL}"
//
// # Frontends
//
//	whatsapp:
//	  enabled: true
//	  verify_token: "${VERIFY_TOKEN}"
//	  access_token: "${WHATSAPP_TOKEN}"
//	  phone_number_id: "${WHATSAPP_PHONE_ID}"
//	  app_secret: "${WHATSAPP_APP_SECRET}"  # optional signature check
//
//	matrix:
//	  enabled: false
//	  homeserver: "https://matrix.org"
//	  user_id: "@relay:matrix.org"
//	  access_token: "${MATRIX_TOKEN}"
//
// # Messages
//
// Every user-facing text can be replaced under messages:. The failed template
// receives the run error code and the poll_timeout template the last observed
// run status, both through a single %s verb. A template without %s gets the
// value appended in parentheses.
package config
