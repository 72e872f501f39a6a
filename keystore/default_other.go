//go:build !windows

package keystore

// DefaultPath is opened by Open when no path is given.
const DefaultPath = "$HOME/.config/tlsctx/keystore"

func openPlatform(string) (DataStore, bool, error) {
	return nil, false, nil
}
