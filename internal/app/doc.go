// Package app provides the application service layer.
//
// Orchestrates the sync use cases: OAuth connect and disconnect, token refresh,
// per-connection profile and content sync, and the scheduled master job.
// Depends on domain interfaces, not concrete implementations.
package app
