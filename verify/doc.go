// Package verify provides structural validation of parameter store images.
//
// # Overview
//
// The checks run offline on a raw copy of a medium, so they never touch a
// live engine. Tests use them after every mutation to prove the store's
// invariants hold, and paramctl exposes them as the validate command.
//
// Validation categories:
//   - Flash info: newest valid copy, sequence parity, region bounds
//   - Item table: every entry decodes, names unique per class
//   - Slot chains: sentinels, CRC, names and sizes of every fragment
//   - Free list: ascending, coalesced, suffix totals
//   - Conservation: live slots plus free nodes tile each data area
//
// # Quick Start
//
//	img, _ := os.ReadFile("params.bin")
//	sum, err := verify.AllInvariants(img, 0, 4096)
//	if err != nil {
//	    fmt.Printf("Validation failed: %v\n", err)
//	}
//
// # ValidationError
//
// Every failure is reported as a *ValidationError carrying the check that
// failed, the flash address involved and, for numeric mismatches, the
// stored and calculated values in Details:
//
//	var verr *verify.ValidationError
//	if errors.As(err, &verr) {
//	    fmt.Printf("%s at 0x%X: %s\n", verr.Type, verr.Offset, verr.Message)
//	}
package verify
