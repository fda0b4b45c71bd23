// Package gmail dispatches HTML email through the Gmail API.
//
// Messages are rendered as a CRLF-joined RFC 2822 style header block plus
// HTML body, base64url-encoded, and submitted via Users.Messages.Send with
// a per-client OAuth token source. Delivery guarantees are the Gmail API's;
// this package only formats, submits and classifies failures.
package gmail
