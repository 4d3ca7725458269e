// Package plan contains pure planning functions over parsed workflows:
// matrix expansion, dependency ordering, readiness computation and run
// state transition planning. No I/O happens here; the engine shell
// executes what this package decides.
package plan
