// Package token persists the local entitlement token.
//
// The token is obfuscated at rest with a repeating XOR keystream and base64.
// This only keeps the value from being read or edited casually; it is not
// encryption and offers no confidentiality against anyone holding the binary.
// Integrity comes from the activation code itself, which only validates when
// it equals the code derived for this device.
package token
