//go:build !darwin && !linux

package storage

// detectFilesystemType reports an unknown type; the network check passes.
func detectFilesystemType(string) (string, error) {
	return "", nil
}
