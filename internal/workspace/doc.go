// Package workspace manages exclusive per-incident working directories
// under a configured root, from allocation to release. Cloning into an
// allocated directory is done by the caller.
package workspace
