// Package config loads the pipeline configuration file (config.yaml).
//
// Top-level types:
//   - Config{API, Paths, Derive, Storage, Report}: full config tree parsed from YAML
//   - APIConfig: base_url, lang, timeout, auth, tls
//   - AuthConfig: mode (apikey|bearer|basic|none), header, key_env, token_env,
//     username, password_env; Key(), Token() and Password() resolve from
//     environment variables
//   - PathsConfig: indicator list file, metadata and data folders
//   - DeriveConfig: input table names and the output table name
//   - StorageConfig: optional sqlite|postgres mirror of the derived result
//   - ReportConfig: optional Prometheus textfile path
//
// Load(path) reads the YAML file, applies defaults (CEPALSTAT v1 API, lang en,
// 30s timeout, the Data/ and Resources/ folder layout), then validates required
// fields and enums.
package config
