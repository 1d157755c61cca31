// Package middleware adapts the gatekeep request pipeline to net/http.
//
// # Guards
//
//   - [Guard] runs admission, verification and authorization for a compiled
//     route and injects the pipeline result into the request context.
//   - [GuardOwner] additionally admits the owner of the addressed resource.
//   - [RequireRoles] and [RequireAuth] compile the route and return the guard.
//
// Handlers read the verified claims with gatekeep.ClaimsFromContext.
//
// # Auth endpoints
//
// [AuthHandlers] serves POST /auth/login, /auth/refresh and /auth/logout. The
// refresh token travels only in an HttpOnly, Secure, SameSite=Strict cookie;
// the access token is returned in the JSON body.
//
// # What this package must NOT do
//
//   - Parse or sign tokens directly (delegates to Engine).
//   - Check credentials (delegates to the caller's [Authenticator]).
//   - Tell clients which check failed. Bodies carry gatekeep.PublicMessage only.
package middleware
