// Package secrets resolves credentials referenced from configuration.
//
// Erasure target DSNs, Redis passwords and API keys may contain
// ${secret:name} references. A Manager resolves them through an ordered
// list of providers:
//
//   - env: reads LETHE_SECRET_<NAME>, with the name upper-cased and hyphens
//     turned into underscores
//   - file: reads <path>/<name> from a directory of 0600 or 0400 files,
//     optionally watching it with fsnotify so rotated files are re-read
//
// Resolved values are cached for a TTL. Resolution is strict: a reference
// that no provider can satisfy is an error, so a store is never opened with
// a literal placeholder as its password.
//
//	mgr, err := secrets.FromConfig(cfg.Security.Secrets, logger)
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//	dsn, err := mgr.Resolve(ctx, "file:crm.db?_auth_pass=${secret:crm-db-password}")
package secrets
