// Package auth provides the authentication and authorization core for a
// multi tenant platform: credential verification, JWT issuance and
// verification, revocation, tenant resolution, login lockout, role and plan
// checks, and auditing.
//
// Tenancy:
//   - Every identity lives in exactly one tenant and school. All lookups take
//     a TenantScope and a token is only trusted inside the scope it names.
//
// Tokens:
//   - Access and refresh tokens are signed with distinct keys and carry a cls
//     claim. A token of one class never verifies as the other.
//   - RevocationRegistry checks token, session and user scopes. A user scope
//     entry revokes tokens issued at or before the revocation instant.
//
// Coordinator:
//   - Login, Refresh, Authenticate, Authorize and Logout compose the
//     collaborators above. Each decision is recorded through the Auditor
//     exactly once. Pipeline runs authenticate, authorize and audit as
//     explicit stages for request middleware.
//
// Identity lifecycle:
//   - IdentityLifecycle owns the status graph (pending, active, suspended)
//     plus deletion. Leaving the active status revokes the user scope so
//     tokens already issued stop being trusted.
//
// Claims decoration:
//   - ClaimsDecorator is invoked before tokens are signed. Decorators may add
//     metadata while protected claims (sub, tid, sch, cls, iat, exp, etc.)
//     remain immutable.
package auth
