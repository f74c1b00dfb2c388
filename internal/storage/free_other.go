//go:build !linux && !darwin

package storage

func FreeSpace(string) (int64, error) {
	return 0, ErrUnsupported
}
