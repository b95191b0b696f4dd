// Package publish commits finished certificate PDFs into a GitHub repository.
// Handler is the server side (the upload endpoint), GitHubClient talks to the
// contents API and Uploader is the client used by the export pipeline and the
// publish CLI mode.
package publish
