// Package app wires the Bodega POS backend together and manages its
// lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration from environment and the optional YAML file
//  2. Initialize logging and OpenTelemetry
//  3. Open the local SQLite store
//  4. Build the device identity, token store and license authority backend
//  5. Construct the entitlement engine
//  6. Set up the chi router and the HTTP server
//
// # Usage
//
//	a, err := app.NewApplication()
//	if err != nil {
//	    return err
//	}
//	return a.Run()
//
// Feature routes that require premium or demo access are registered on
// Application.Premium, which sits behind the entitlement gate.
//
// # Graceful Shutdown
//
// Run blocks until SIGINT or SIGTERM and then closes the HTTP server, the
// entitlement engine, the stores and the telemetry providers in that order.
// Initialization errors are returned to the caller; the package never calls
// os.Exit.
package app
