//go:build windows

package keystore

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/windows/registry"
)

var hives = map[string]registry.Key{
	"LM":            registry.LOCAL_MACHINE,
	"LOCAL_MACHINE": registry.LOCAL_MACHINE,
	"CU":            registry.CURRENT_USER,
	"CURRENT_USER":  registry.CURRENT_USER,
}

// RegistryDataStore keeps values as binary values of one registry key.
type RegistryDataStore struct {
	hive registry.Key
	path string
}

var _ DataStore = (*RegistryDataStore)(nil)

// NewRegistryDataStore opens or creates the key at path, written as HIVE\path\to\key
// with HIVE one of LM, LOCAL_MACHINE, CU or CURRENT_USER. Forward slashes are accepted.
func NewRegistryDataStore(path string) (*RegistryDataStore, error) {
	hiveName, keyPath, ok := strings.Cut(strings.ReplaceAll(path, "/", `\`), `\`)
	if !ok {
		return nil, fmt.Errorf("keystore: registry path %q has no hive", path)
	}
	hive, ok := hives[strings.ToUpper(hiveName)]
	if !ok {
		return nil, fmt.Errorf("keystore: unknown registry hive %q", hiveName)
	}
	k, _, err := registry.CreateKey(hive, keyPath, registry.ALL_ACCESS)
	if err != nil {
		return nil, fmt.Errorf("keystore: create registry key: %w", err)
	}
	k.Close()
	return &RegistryDataStore{hive: hive, path: keyPath}, nil
}

func (s *RegistryDataStore) Get(key string, decrypt bool) ([]byte, error) {
	k, err := registry.OpenKey(s.hive, s.path, registry.QUERY_VALUE)
	if err != nil {
		return nil, nil
	}
	defer k.Close()

	data, _, err := k.GetBinaryValue(key)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if decrypt && len(data) > 0 {
		if data, err = decryptValue(data); err != nil {
			return nil, fmt.Errorf("keystore: decrypt %s: %w", key, err)
		}
	}
	return data, nil
}

func (s *RegistryDataStore) Set(key string, encrypt bool, value []byte) error {
	data, err := sealValue(value, encrypt)
	if err != nil {
		return err
	}
	k, _, err := registry.CreateKey(s.hive, s.path, registry.ALL_ACCESS)
	if err != nil {
		return fmt.Errorf("keystore: open registry key: %w", err)
	}
	defer k.Close()

	if data == nil {
		if err := k.DeleteValue(key); err != nil && !errors.Is(err, registry.ErrNotExist) {
			return err
		}
		return nil
	}
	return k.SetBinaryValue(key, data)
}

func (s *RegistryDataStore) Path() string {
	hive := "HKCU"
	if s.hive == registry.LOCAL_MACHINE {
		hive = "HKLM"
	}
	return hive + `\` + s.path
}
