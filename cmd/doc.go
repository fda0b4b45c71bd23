// Package cmd implements the command-line interface for gmailbridge.
//
// This package provides the following commands:
//   - serve: Start the HTTP service
//   - version: Display version information
package cmd
