// Package connection orchestrates the Gmail connection lifecycle for a
// client: initiate the OAuth flow, complete the callback, report status,
// disconnect, and send mail.
//
// The identity provider and the mail provider sit behind the
// AuthorizationProvider and MailProvider interfaces so tests can
// substitute fakes without network access. Each operation runs to
// completion within one inbound request; there is no background work.
package connection
