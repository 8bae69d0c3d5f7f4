// Package tokenauth issues, validates and rotates signed bearer tokens and
// resolves callers to local accounts with a role set.
//
// Tokens:
//   - ClaimCodec signs and parses JWTs with a single configured HMAC
//     algorithm. Any other header algorithm, including "none", is rejected as
//     malformed. Expiry is not checked by the codec.
//   - TokenService issues access/refresh pairs, validates a token against an
//     expected type, and rotates refresh tokens. Each login starts a refresh
//     family; only the most recently issued refresh token of a family can be
//     redeemed. Presenting an older one revokes the family.
//
// Identities:
//   - IdentityResolver maps a verified federated identity (provider,
//     external id, email) onto a local account: already linked accounts are
//     returned as is, accounts sharing the verified email are linked, and
//     unknown identities get a new account with the USER role. Concurrent
//     first logins converge on one account through the store's unique
//     constraints.
//   - Authenticator handles local username/email + password logins and
//     registration through a CredentialVerifier.
//
// Authorization:
//   - Authorizer evaluates an ordered rule table against the caller's role
//     set; the first matching pattern wins.
//   - Gate runs the per-request state machine: bearer extraction, validation,
//     then authorization, producing an AuthContext.
//
// Storage adapters live in the repository (bun), storage/memory and
// storage/redis packages; middleware/bearer exposes the Gate as fiber
// middleware and httpapi mounts the login, refresh and admin endpoints.
package tokenauth
