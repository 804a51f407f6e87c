// Package core provides the row-processing engine for bulk identity imports.
//
// A job reads a delimited source whose header names eight fixed columns and
// reconciles every data row against an IdentityStore: unknown emails become
// new accounts, known emails are updated without overwriting stored values
// with blank or invalid input, and every account is added to the target group
// when one is given. Rows that cannot be applied are kept verbatim so they can
// be re-exported for remediation.
//
// The engine is split into small pieces that can be used on their own:
//
//   - validators.go: field predicates and normalizers
//   - decode.go: raw cells to ImportRecord
//   - reconcile.go: create-or-update against the store
//   - job.go: per-job accumulator and the RememberSource/ProcessRow/Finish surface
//   - service.go, runner.go: background execution, progress, cancellation
//
// This package has no HTTP or UI dependencies and can be driven by any frontend.
package core
