// Package apicompat holds contract tests that run against a live plate
// server. They skip when PLATE_BASE_URL (default http://localhost:8000)
// is unreachable.
package apicompat
