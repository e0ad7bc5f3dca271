package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

const (
	LocalChainID   int64 = 31337
	SepoliaChainID int64 = 11155111
)

// Network describes one chain the escrow can be deployed on.
type Network struct {
	ChainID  int64          `json:"chainId"`
	Name     string         `json:"name"`
	RPCURL   string         `json:"rpcUrl"`
	DataFeed common.Address `json:"dataFeed"`
}

// NetworkTable is keyed by chain id.
type NetworkTable map[int64]Network

// DefaultNetworks returns the built-in table: a local dev chain and Sepolia
// with its ETH/USD feed.
func DefaultNetworks() NetworkTable {
	return NetworkTable{
		LocalChainID: {
			ChainID:  LocalChainID,
			Name:     "local",
			RPCURL:   "http://127.0.0.1:8545",
			DataFeed: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		},
		SepoliaChainID: {
			ChainID:  SepoliaChainID,
			Name:     "sepolia",
			DataFeed: common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306"),
		},
	}
}

// LoadNetworks overlays the entries in path on the defaults. A missing
// file leaves the defaults in place.
func LoadNetworks(path string) (NetworkTable, error) {
	table := DefaultNetworks()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return table, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Network
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	extra := make(NetworkTable, len(entries))
	for _, n := range entries {
		if n.ChainID == 0 {
			return nil, fmt.Errorf("network %q has no chain id", n.Name)
		}
		extra[n.ChainID] = n
	}
	maps.Copy(table, extra)
	return table, nil
}

// DataFeed returns the price feed address configured for chainID.
func (t NetworkTable) DataFeed(chainID int64) (common.Address, error) {
	n, ok := t[chainID]
	if !ok || n.DataFeed == (common.Address{}) {
		return common.Address{}, fmt.Errorf("no data feed configured for chain %d", chainID)
	}
	return n.DataFeed, nil
}

// IsLocal reports whether chainID is the local development chain.
func IsLocal(chainID int64) bool {
	return chainID == LocalChainID
}
