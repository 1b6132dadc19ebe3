// Package config loads and validates the agent configuration.
//
// The configuration is an explicit, versioned contract: a YAML or JSON document
// whose top-level "version" must be "1". Unknown keys, malformed values and
// semantic problems (duplicate target names, an http target without a url, a
// non-positive threshold) are all reported together and Load fails; there is no
// fallback to built-in settings when the file cannot be understood. Defaults only
// fill fields the file leaves out.
//
// Environment variables with the HEALTHMON_ prefix override connection settings
// after the file is read:
//
//	HEALTHMON_NATS_URL, HEALTHMON_NATS_TOKEN, HEALTHMON_NATS_USERNAME,
//	HEALTHMON_NATS_PASSWORD, HEALTHMON_METRICS_PORT
//
// Example:
//
//	version: "1"
//	nats:
//	  url: nats://localhost:4222
//	monitoring:
//	  sweepIntervalMs: 60000
//	targets:
//	  - name: svc-a
//	    kind: http
//	    url: http://svc-a:8080/health
//	    expectedStatus: 200
//	    critical: true
//	  - name: postgres
//	    kind: tcp
//	    host: db
//	    port: 5432
package config
