// Package relay forwards fully-described HTTP requests to third-party
// endpoints over TLS connections built from per-destination certificate
// material.
//
// The package has three cooperating pieces:
//
//   - TLSBuilder turns optional TLSParams into a ready tls.Config,
//     loading the client identity and CA bundle through the certificate
//     store. Verification is permissive by default: unless strict
//     verification is enabled, server certificates are not checked even
//     when a CA bundle was loaded. This mirrors the deployed trust model
//     and is covered by tests; flip it only after confirming the trust
//     model with the destinations involved.
//
//   - WireFormatter serializes the request line and headers onto the
//     connection. The serializer rejects CR/LF in header names and values
//     outright (header injection guard) and emits Latin-1, one byte per
//     character, because several destination gateways reject UTF-8
//     encoded header values.
//
//   - Relay drives one request end to end: build TLS config, send through
//     a Transport using the wire formatter, enforce the 60-second budget,
//     unwrap zip-packed octet-stream bodies, and normalize the outcome
//     into an api.RelayResult.
package relay
