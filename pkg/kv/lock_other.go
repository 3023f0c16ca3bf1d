//go:build !unix

package kv

// lockFile is a no-op where flock is unavailable; File then only serialises
// writers within one process. Use the sqlite backend to share state.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
