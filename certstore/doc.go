// Package certstore resolves certificate and key material from a fixed
// root directory on local disk.
//
// Every path passed into the store is a relative identifier that must
// resolve inside the configured root; resolution is re-validated on each
// call since paths are caller-controlled. The store also implements the
// deployment's password convention: the decryption password for a key at
// path p is read from the environment variable derived from p by replacing
// '-', '.' and '/' with '_', upper-casing, and appending "_PASSWORD"
// (e.g. certs/bank-1.key -> CERTS_BANK_1_KEY_PASSWORD).
//
// The environment is an injected lookup function so tests never have to
// mutate the real process environment.
package certstore
