package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"stakepool/crypto"
)

// Funder credits balances outside of the transfer flow.
type Funder interface {
	Fund(ctx context.Context, account crypto.Address, amount uint64) error
}

// Allocation is one genesis balance.
type Allocation struct {
	Address string `toml:"address"`
	Balance uint64 `toml:"balance"`
	Label   string `toml:"label"`
}

// Genesis lists the balances a fresh ledger starts with.
type Genesis struct {
	Alloc []Allocation `toml:"alloc"`
}

// LoadGenesis parses a TOML allocation file.
func LoadGenesis(path string) (*Genesis, error) {
	var g Genesis
	meta, err := toml.DecodeFile(path, &g)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode genesis %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("ledger: unknown genesis keys: %s", strings.Join(keys, ", "))
	}
	if _, err := g.Resolve(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Resolve parses every allocation address, rejecting duplicates.
func (g *Genesis) Resolve() (map[crypto.Address]uint64, error) {
	out := make(map[crypto.Address]uint64, len(g.Alloc))
	for i, alloc := range g.Alloc {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("ledger: genesis alloc %d: %w", i, err)
		}
		if _, dup := out[addr]; dup {
			return nil, fmt.Errorf("ledger: genesis alloc %d: duplicate address %s", i, addr)
		}
		out[addr] = alloc.Balance
	}
	return out, nil
}

// Apply funds every allocation on f.
func (g *Genesis) Apply(ctx context.Context, f Funder) error {
	if f == nil {
		return errors.New("ledger: nil funder")
	}
	allocs, err := g.Resolve()
	if err != nil {
		return err
	}
	for addr, amount := range allocs {
		if err := f.Fund(ctx, addr, amount); err != nil {
			return fmt.Errorf("ledger: fund %s: %w", addr, err)
		}
	}
	return nil
}
