package filter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func writeAddressFile(t *testing.T, path string, addrs ...string) {
	t.Helper()
	var body string
	body = "addresses = [\n"
	for _, a := range addrs {
		body += "    \"" + a + "\",\n"
	}
	body += "]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestSnapshotHasAddressAndContract(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	contract := common.HexToAddress("0x2222222222222222222222222222222222222222")
	snap := &Snapshot{
		Addresses: map[common.Address]struct{}{addr: {}},
		Contracts: map[common.Address]struct{}{contract: {}},
	}

	require.True(t, snap.HasAddress(addr))
	require.False(t, snap.HasAddress(contract))
	require.True(t, snap.HasContract(contract))
	require.False(t, snap.HasContract(addr))
}

func TestLoadAddressFileSkipsMalformedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "address.toml")
	writeAddressFile(t, path, "0x1111111111111111111111111111111111111111", "not-an-address", "0x2222222222222222222222222222222222222222")

	set, err := loadAddressFile(path)
	require.NoError(t, err)
	require.Len(t, set, 2)
}

func TestNewRegistryAndHotReload(t *testing.T) {
	dir := t.TempDir()
	contractsPath := filepath.Join(dir, "contracts.toml")
	addressesPath := filepath.Join(dir, "address.toml")

	watched1 := "0x1111111111111111111111111111111111111111"
	watched2 := "0x2222222222222222222222222222222222222222"

	writeAddressFile(t, contractsPath)
	writeAddressFile(t, addressesPath, watched1)

	reg, err := NewRegistry(log.Root(), contractsPath, addressesPath)
	require.NoError(t, err)
	defer reg.Close()

	snap := reg.Load()
	require.True(t, snap.HasAddress(common.HexToAddress(watched1)))
	require.False(t, snap.HasAddress(common.HexToAddress(watched2)))

	writeAddressFile(t, addressesPath, watched2)

	require.Eventually(t, func() bool {
		return reg.Load().HasAddress(common.HexToAddress(watched2))
	}, 2*time.Second, 10*time.Millisecond)

	require.False(t, reg.Load().HasAddress(common.HexToAddress(watched1)))
}

func TestUniqueDirs(t *testing.T) {
	dirs := uniqueDirs("/a/b/c.toml", "/a/b/d.toml", "/x/y/z.toml")
	require.Equal(t, []string{"/a/b", "/x/y"}, dirs)
}
