package universe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefault(t *testing.T) {
	u, err := Load("")
	require.NoError(t, err)
	require.NotEmpty(t, u.Instruments)

	require.Equal(t, "BTC", u.Instruments[0].Symbol)
	require.Equal(t, "BTCUSDT", u.Instruments[0].Native("binance"))
	require.Equal(t, "BTC-USDT-SWAP", u.Instruments[0].Native("okx"))
	require.Equal(t, "XBTUSDTM", u.Instruments[0].Native("kucoin"))
}

func TestVenueSymbolsSkipsMissing(t *testing.T) {
	u, err := Load("")
	require.NoError(t, err)

	kucoin := u.VenueSymbols("kucoin")
	binance := u.VenueSymbols("binance")
	// PEPE has no kucoin listing in the default table.
	require.Less(t, len(kucoin), len(binance))
	for _, s := range kucoin {
		require.NotEmpty(t, s)
	}
}

func TestLoadOmitsUnreconcilableMapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "universe.yml")
	body := `
instruments:
  - {symbol: WEIRD, name: Weird, binance: 1000WEIRDUSDT, okx: WEIRD-USDT-SWAP}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	u, err := Load(path)
	require.NoError(t, err)
	require.Len(t, u.Instruments, 1)
	// The denomination-prefixed contract cannot be reconciled and is omitted;
	// the plain OKX mapping survives.
	require.Empty(t, u.Instruments[0].Native("binance"))
	require.Equal(t, "WEIRD-USDT-SWAP", u.Instruments[0].Native("okx"))
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/universe.yml")
	require.Error(t, err)
}
