package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"ChainPilot/internal/config"

	"github.com/ethereum/go-ethereum/common"
)

// Asset 描述一个可识别的资产。Contract 为零地址时表示原生资产。
type Asset struct {
	Symbol   string
	Decimals int
	Contract common.Address
}

// Native 判断是否为原生资产。
func (a Asset) Native() bool {
	return a.Contract == (common.Address{})
}

// AssetTable 按大写符号索引资产。
type AssetTable map[string]Asset

// NewAssetTable 从配置构造资产表。
func NewAssetTable(cfg map[string]config.AssetConfig) (AssetTable, error) {
	table := make(AssetTable, len(cfg))
	for symbol, ac := range cfg {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		asset := Asset{Symbol: symbol, Decimals: ac.Decimals}
		if contract := strings.TrimSpace(ac.Contract); contract != "" {
			if !common.IsHexAddress(contract) {
				return nil, fmt.Errorf("资产 %s 的合约地址无效: %s", symbol, contract)
			}
			asset.Contract = common.HexToAddress(contract)
		}
		table[symbol] = asset
	}
	return table, nil
}

// Lookup 查询资产。
func (t AssetTable) Lookup(symbol string) (Asset, bool) {
	a, ok := t[strings.ToUpper(strings.TrimSpace(symbol))]
	return a, ok
}

// Symbols 返回排序后的资产符号。
func (t AssetTable) Symbols() []string {
	out := make([]string, 0, len(t))
	for s := range t {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// nativeAsset 返回表中第一个原生资产，默认 ETH/18。
func (t AssetTable) nativeAsset() Asset {
	if a, ok := t["ETH"]; ok && a.Native() {
		return a
	}
	for _, s := range t.Symbols() {
		if t[s].Native() {
			return t[s]
		}
	}
	return Asset{Symbol: "ETH", Decimals: 18}
}
