// Package config handles configuration loading for mcp-hub.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension)
// with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Locations, in order:
//
//  1. The --config flag
//  2. Path from the MCPHUB_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/mcp-hub/hub.yaml
//  4. ~/.config/mcp-hub/hub.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	servers:
//	  - name: memory
//	    env:
//	      MEMORY_FILE_PATH: "${HOME}/.mcp/memory.json"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":11010"      # facades; default :11010
//	  grpc_addr: ":11011"      # grpc.health.v1; empty disables
//
//	tailscale:
//	  enabled: false
//	  hostname: "mcp-hub"
//
//	database:
//	  path: "~/.local/share/mcp-hub/hub.db"   # empty disables the call journal
//
//	hub:
//	  call_timeout: "10s"
//	  startup_grace: "500ms"
//	  stop_timeout: "3s"
//	  replay_ttl: "5m"
//	  handshake:
//	    protocol_version: "2024-11-05"
//	    client_name: "mcp-integration-hub"
//	    client_version: "1.0.0"
//	    send_initialized: true
//
//	servers:
//	  - name: filesystem
//	    category: filesystem    # routes read_file, write_file, list_directory
//	    command: node
//	    args: ["servers/src/filesystem/dist/index.js", "/tmp"]
//	    working_dir: "servers/src/filesystem"
//	  - name: tools
//	    category: custom        # custom servers list their tools
//	    command: ./my-provider
//	    tools:
//	      - name: lookup
//	        description: "Look something up"
//	        input_schema: {type: object, properties: {q: {type: string}}}
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text, json
//
// # Routing
//
// Each tool name may be routed to one server only; Validate rejects
// collisions. A server with a known category and no tools list gets that
// category's default tools.
package config
