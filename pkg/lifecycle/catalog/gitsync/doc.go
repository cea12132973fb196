// Package gitsync publishes the retention policy catalog from a Git
// repository.
//
// Policy owners change retention rules by committing a new catalog file
// with a later effective_date. The syncer clones the repository once,
// pulls it on an interval and publishes the file whenever a pull changes
// it. The commit that produced each version is logged.
//
//	catalog:
//	  git:
//	    enabled: true
//	    repository: https://git.example.com/privacy/retention-policy.git
//	    branch: main
//	    path: catalog.yaml
//	    poll_interval: 1m
//	    auth:
//	      type: token
//	      token: ${secret:policy-repo-token}
//
// Pulls never force: a rewritten remote history fails the pull and leaves
// the published catalog untouched.
package gitsync
