// Package auth issues and validates the HMAC-signed bearer tokens that
// guard the operator API.
package auth
