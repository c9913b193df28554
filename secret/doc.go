// Package secret guards credential round-trips against the index service.
//
// The index service returns sensitive configuration fields in masked form. A
// Value is therefore either Real or Masked, and only a Sealed bundle, which
// can hold no masked values, may be written back. The Custodian performs the
// read-modify-write cycle and resolves every masked field from a Store before
// sealing. If any field cannot be resolved the write is refused.
package secret
