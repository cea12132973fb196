// Package auth authenticates HTTP callers by API key.
//
// Each configured key names a principal and grants roles: ingest for the
// upstream systems that register records, read for compliance consumers,
// and operator for legal holds and the admin routes. The principal's name
// becomes the actor recorded in the audit log, so with authentication
// enabled a caller cannot choose its own actor.
//
//	store, err := auth.FromConfig(ctx, cfg.Security.Authentication, secrets.Resolve)
//	mw := auth.NewMiddleware(store, "Authorization", writeError, logger)
//	r.Use(mw.Handle)
//	r.With(mw.RequireRole(auth.RoleOperator)).Post("/v1/admin/jobs/{job}", runJob)
package auth
