// Package auth issues and verifies the bearer tokens that guard the
// control API.
//
// There is no user database. An operator mints a signed access token with
// "mergebot token" and presents it as "Authorization: Bearer <token>".
// Two roles exist: viewer may read stats and watch the WebSocket feed;
// operator may additionally pause, resume and reset the loop and drive
// the device directly.
package auth
