// Package offline implements the versioned asset cache and its worker
// lifecycle. A Manager owns exactly one cache generation: it installs the
// seed assets, prunes older generations on activation and serves intercepted
// GET requests network-first (navigations) or cache-first (everything else).
// A Container plays the host role: it installs new workers, honors their
// skip-waiting and claim signals and exposes the controlling router.
package offline
