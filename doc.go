// Package auth implements email/password authentication with JWT access and
// refresh tokens plus the account lifecycle around it.
//
// Tokens:
//   - TokenService signs HS256 pairs whose "type" claim discriminates access
//     from refresh tokens; presenting one where the other is expected fails
//     validation. Refresh rotates a brand new pair without revoking the old
//     refresh token.
//
// Secret token flows:
//   - Email verification and password reset mint opaque random tokens stored
//     next to an absolute expiry. Consumption is a single conditional UPDATE,
//     so concurrent attempts on the same token produce exactly one success.
//     Invalid, expired, and inactive-account failures are indistinguishable
//     to callers.
//
// User lifecycle:
//   - The unverified/verified/inactive state is derived from the is_active
//     and is_email_verified flags. UserStateMachine centralizes the allowed
//     transitions and guards self deletion; reactivation restores the prior
//     verified state because the flags survive deactivation.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther, the flow
//     handlers, and the state machine. Sinks run best-effort (errors are
//     logged) so you can forward to a database or queue without blocking
//     authentication.
package auth
