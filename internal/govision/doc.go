// Package govision implements the HTTP client for the govision inference
// API, including the authenticated transport that transparently refreshes an
// expired access token and replays the original request once.
package govision
