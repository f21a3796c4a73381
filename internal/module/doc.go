// Package module defines the uniform capability interface every peripheral
// module implements, together with the values that cross it.
//
// This package provides:
//   - Module: the Init/Deinit/Execute/SupportedFunctions contract
//   - Lifecycle: the Uninitialized -> Initialized -> Deinitialized state machine
//   - Params: ordered, string-encoded command parameters with typed accessors
//   - Result: the closed {Empty, Int, Bytes, Ints} result type
//   - Registry: the ordered name -> module table populated at boot
//
// # Parameter Policy
//
// Every parameter arrives as text. Accessors parse with the narrowest numeric
// parser for the field and report malformed text as ErrInvalidParameter.
// When a key appears more than once, the first occurrence wins.
//
// # Registry Precedence
//
// Duplicate module names are accepted at registration. Lookup returns the
// first module registered under a name; later duplicates are unreachable.
//
// # Thread Safety
//
// Registry is safe for concurrent lookups once sealed. Modules serialise their
// own Execute calls; callers must not assume two commands on the same module
// run concurrently.
package module
