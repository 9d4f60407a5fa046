// Package config provides centralized configuration management for the Bodega
// point-of-sale license engine and its reference authority service.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. A YAML configuration file (BODEGA_CONFIG_FILE or config.yaml)
//	3. Default values from struct tags (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern BODEGA_<SECTION>_<FIELD>:
//
//	BODEGA_ENTITLEMENT_SECRET=S3cr3t
//	BODEGA_AUTHORITY_BACKEND=http
//	BODEGA_AUTHORITY_BASE_URL=https://licenses.example.com
//	BODEGA_STORAGE_DATABASE_PATH=data/bodega.db
//
// # Validation
//
// Load validates the result with go-playground/validator. A missing
// entitlement secret is a configuration error and stops startup.
package config
