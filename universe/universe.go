package universe

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"fundingflow/logger"
	"fundingflow/symbols"
)

//go:embed default.yml
var defaultList []byte

// Instrument maps one canonical symbol to each venue's native identifier.
// Empty entries mean the venue does not list the instrument; the scorer skips
// such venues for that instrument.
type Instrument struct {
	Symbol      string `yaml:"symbol" json:"symbol"`
	Name        string `yaml:"name" json:"name"`
	Binance     string `yaml:"binance,omitempty" json:"binance,omitempty"`
	Okx         string `yaml:"okx,omitempty" json:"okx,omitempty"`
	Bybit       string `yaml:"bybit,omitempty" json:"bybit,omitempty"`
	Hyperliquid string `yaml:"hyperliquid,omitempty" json:"hyperliquid,omitempty"`
	Asterdex    string `yaml:"asterdex,omitempty" json:"asterdex,omitempty"`
	Kucoin      string `yaml:"kucoin,omitempty" json:"kucoin,omitempty"`
}

// Native returns the venue-native symbol for a venue slug, or "" when the
// venue does not list the instrument.
func (i Instrument) Native(venue string) string {
	switch strings.ToLower(venue) {
	case "binance":
		return i.Binance
	case "okx":
		return i.Okx
	case "bybit":
		return i.Bybit
	case "hyperliquid":
		return i.Hyperliquid
	case "asterdex":
		return i.Asterdex
	case "kucoin":
		return i.Kucoin
	default:
		return ""
	}
}

func (i *Instrument) clear(venue string) {
	switch strings.ToLower(venue) {
	case "binance":
		i.Binance = ""
	case "okx":
		i.Okx = ""
	case "bybit":
		i.Bybit = ""
	case "hyperliquid":
		i.Hyperliquid = ""
	case "asterdex":
		i.Asterdex = ""
	case "kucoin":
		i.Kucoin = ""
	}
}

// Venues lists every venue slug an instrument record can map to.
var Venues = []string{"binance", "okx", "bybit", "hyperliquid", "asterdex", "kucoin"}

// Universe is the ordered instrument-identity table shared by all scorers.
type Universe struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Load reads the table from a YAML file, or from the embedded default list
// when path is empty. Mappings whose native symbol cannot be reconciled with
// the canonical symbol (unknown denomination prefix, wrong base) are omitted
// rather than guessed.
func Load(path string) (*Universe, error) {
	data := defaultList
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read instrument list: %w", err)
		}
	}

	u := &Universe{}
	if err := yaml.Unmarshal(data, u); err != nil {
		return nil, fmt.Errorf("failed to parse instrument list: %w", err)
	}
	if len(u.Instruments) == 0 {
		return nil, fmt.Errorf("instrument list is empty")
	}

	u.sanitize()
	return u, nil
}

// sanitize drops venue mappings that do not normalize back to the canonical
// symbol. A dropped mapping means the instrument is simply unavailable on
// that venue, not an error.
func (u *Universe) sanitize() {
	log := logger.GetLogger().WithComponent("universe")
	for idx := range u.Instruments {
		inst := &u.Instruments[idx]
		for _, venue := range Venues {
			native := inst.Native(venue)
			if native == "" {
				continue
			}
			canonical, ok := symbols.ToCanonical(venue, native)
			if !ok || canonical != inst.Symbol {
				log.WithFields(logger.Fields{
					"venue":     venue,
					"native":    native,
					"canonical": inst.Symbol,
				}).Warn("omitting unreconcilable venue mapping")
				inst.clear(venue)
			}
		}
	}
}

// VenueSymbols returns the native symbols mapped for one venue, in table
// order. Feeds that subscribe per symbol use this as their subscription list.
func (u *Universe) VenueSymbols(venue string) []string {
	out := make([]string, 0, len(u.Instruments))
	for _, inst := range u.Instruments {
		if native := inst.Native(venue); native != "" {
			out = append(out, native)
		}
	}
	return out
}
