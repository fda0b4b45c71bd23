package google

import (
	gmail "google.golang.org/api/gmail/v1"
)

// GmailScopes are the Google OAuth scopes requested for every connection.
// Send covers message dispatch; readonly covers the profile check used to
// verify that a stored token is still valid.
var GmailScopes = []string{
	gmail.GmailSendScope,
	gmail.GmailReadonlyScope,
}
