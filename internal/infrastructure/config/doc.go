// Package config loads and validates the bridge configuration: a YAML
// file selected at startup, with environment variables overriding the
// sensitive values (broker credentials, InfluxDB token, JWT secret) so
// none of them have to live on disk.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//
// Loading happens once; the returned Config is treated as immutable after
// that. Validation rejects configurations the bridge cannot run with
// (missing database path, out-of-range ports, zero backoff factors) rather
// than failing later mid-connection.
package config
