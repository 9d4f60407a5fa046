// Package shared holds helpers used by several packages that belong to no
// single domain. It must not import other internal packages.
//
// The testutil subpackage captures slog output so tests can assert on what
// was logged:
//
//	logger, logs := testutil.NewTestLogger(t)
//	svc := services.NewEntitlementService(engine, logger)
//	...
//	testutil.AssertLogAttr(t, logs, "action", "unlock")
package shared
