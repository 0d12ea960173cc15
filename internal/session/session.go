// Package session manages the client's authenticated identity: the signed-in
// user, the bearer token consumed by the REST and signaling clients, and a
// stable anonymous device id. Only the token and device id survive restarts;
// the user profile is re-fetched on login.
package session
