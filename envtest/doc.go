// Package envtest validates Env implementations against the interface
// contract and injects faults for crash-path testing.
//
// Backend packages run the conformance suite from their own tests:
//
//	func TestConformance(t *testing.T) {
//	    envtest.TestEnv(t, func(t *testing.T) envgo.Env {
//	        return envgo.NewMemEnv()
//	    })
//	}
//
// The suite checks interface contracts, not backend internals: EOF
// conventions, close idempotence, fail-fast locking, rename-replaces and
// the rest. Capabilities a backend intentionally lacks are skipped when
// probing reports ErrNotSupported; behavioral groups that do not apply,
// such as real directories on object stores, are skipped by name with
// TestEnvWithSkip.
//
// FaultyEnv wraps any Env and fails writes, syncs, reads or closes by
// filename pattern, which is how engine recovery paths get exercised
// without a real torn disk.
package envtest
