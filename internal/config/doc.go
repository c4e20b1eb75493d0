// Package config loads the vmorgd configuration from YAML.
//
// Sections:
//   - server     listen addresses for HTTP, gRPC and /metrics
//   - auth       seed requestors, watched allow-list file, gRPC API key
//   - build      simulator store path, boot delay and capacity limits
//   - stats      rollover cron schedule, timezone, SQLite archive, Redis mirror
//   - events     NATS URL and base subject
//   - rate_limit per-requestor token bucket on POST /requests
//   - tracing    stdout span export
//   - log        zap level and development mode
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
