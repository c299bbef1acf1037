// Package workspace wraps the Google Workspace APIs used by the built-in
// google tool provider: Gmail, Calendar, Drive and Docs.
//
// A Client is bound to one user's access token. It never refreshes the
// token itself; the credential refresher hands it a token that is fresh for
// at least the refresh buffer, and the client cache rebuilds the client when
// the token is replaced.
//
// Every call takes a context and returns small domain types rather than the
// generated API structs, so tool handlers can render them directly.
package workspace
