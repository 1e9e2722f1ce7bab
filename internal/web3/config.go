package web3

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Network is one named entry of a chains file.
type Network struct {
	Name        string `yaml:"-"`
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	ENSRegistry string `yaml:"ens_registry"`
	Description string `yaml:"description"`
}

// Networks indexes the entries of a chains file by lower-cased name.
//
//	chains:
//	  mainnet:
//	    rpc_url: https://eth.example/rpc
//	    ens_registry: 0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e
type Networks map[string]Network

// LoadNetworks reads and validates a chains file. An empty path yields no
// networks. Every entry needs an rpc_url, only EVM chains are accepted, and
// ens_registry must be a hex address when set.
func LoadNetworks(path string) (Networks, error) {
	if strings.TrimSpace(path) == "" {
		return Networks{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chains file: %w", err)
	}

	var file struct {
		Chains map[string]Network `yaml:"chains"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse chains file %s: %w", path, err)
	}

	nets := make(Networks, len(file.Chains))
	var problems []error
	for name, n := range file.Chains {
		n.Name = name
		if err := n.validate(); err != nil {
			problems = append(problems, err)
			continue
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := nets[key]; dup {
			problems = append(problems, fmt.Errorf("network %s: defined more than once", name))
			continue
		}
		nets[key] = n
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("chains file %s: %w", path, errors.Join(problems...))
	}
	return nets, nil
}

func (n Network) validate() error {
	if t := strings.ToLower(strings.TrimSpace(n.Type)); t != "" && t != "evm" {
		return fmt.Errorf("network %s: unsupported type %q", n.Name, n.Type)
	}
	if strings.TrimSpace(n.RPCURL) == "" {
		return fmt.Errorf("network %s: rpc_url is required", n.Name)
	}
	if n.ENSRegistry != "" && !common.IsHexAddress(n.ENSRegistry) {
		return fmt.Errorf("network %s: ens_registry %q is not an address", n.Name, n.ENSRegistry)
	}
	return nil
}

// Find looks a network up case-insensitively.
func (n Networks) Find(name string) (Network, bool) {
	net, ok := n[strings.ToLower(strings.TrimSpace(name))]
	return net, ok
}
