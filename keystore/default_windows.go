//go:build windows

package keystore

import "strings"

// DefaultPath is opened by Open when no path is given.
const DefaultPath = `CU\SOFTWARE\tlsctx\keystore`

// openPlatform opens registry paths with a hive prefix.
func openPlatform(path string) (DataStore, bool, error) {
	hive, _, ok := strings.Cut(strings.ReplaceAll(path, "/", `\`), `\`)
	if !ok {
		return nil, false, nil
	}
	if _, known := hives[strings.ToUpper(hive)]; !known {
		return nil, false, nil
	}
	ds, err := NewRegistryDataStore(path)
	if err != nil {
		return nil, true, err
	}
	return ds, true, nil
}
