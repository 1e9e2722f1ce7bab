// Package directory 维护从工具提供方发现的账户目录，并为别名与地址查询提供原子快照。
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// CodeDirectoryUnavailable 表示无法从工具提供方获取账户列表。
	CodeDirectoryUnavailable xerrors.Code = "DIRECTORY_UNAVAILABLE"
	// CodeAccountNotFound 表示目录中不存在该引用。
	CodeAccountNotFound xerrors.Code = "ACCOUNT_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeDirectoryUnavailable, xerrors.Attributes{
		Message:    "account directory unavailable",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		UserFacing: true,
	})
	xerrors.Register(CodeAccountNotFound, xerrors.Attributes{
		Message:    "account not found",
		Severity:   xerrors.SeverityInfo,
		UserFacing: true,
	})
}

// ErrAccountNotFound 可用于 errors.Is 比较。
var ErrAccountNotFound = xerrors.New(CodeAccountNotFound, "")

// Caller 是目录依赖的工具调用能力，通常由 toolrpc.Client 提供。
type Caller interface {
	Call(ctx context.Context, req toolrpc.Request) (*toolrpc.Response, error)
}

// Account 是目录中的一个条目。
type Account struct {
	Alias         string
	Address       common.Address
	HasSigningKey bool
}

// Label 返回适合展示的名称。
func (a Account) Label() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Address.Hex()
}

type snapshot struct {
	accounts    []Account
	byAlias     map[string]int
	byAddress   map[common.Address]int
	refreshedAt time.Time
}

// Option 定义目录的可选配置。
type Option func(*Directory)

// WithDefaultAliases 设置位置 0 与位置 1 账户的别名。
func WithDefaultAliases(sender, recipient string) Option {
	return func(d *Directory) {
		d.senderAlias = normalize(sender)
		d.recipientAlias = normalize(recipient)
	}
}

// WithSigningMaterial 控制刷新时是否额外请求签名材料。
func WithSigningMaterial(enabled bool) Option {
	return func(d *Directory) {
		d.signingMaterial = enabled
	}
}

// WithContracts 将知名合约作为无签名密钥的别名条目加入目录。
func WithContracts(contracts map[string]string) Option {
	return func(d *Directory) {
		d.contracts = make(map[string]common.Address, len(contracts))
		for name, addr := range contracts {
			if common.IsHexAddress(addr) {
				d.contracts[normalize(name)] = common.HexToAddress(addr)
			}
		}
	}
}

// WithMetrics 设置指标记录器。
func WithMetrics(r *metrics.Recorder) Option {
	return func(d *Directory) {
		d.metrics = r
	}
}

// Directory 保存账户快照。查询读取当前快照，刷新串行执行并原子替换快照。
type Directory struct {
	caller          Caller
	senderAlias     string
	recipientAlias  string
	signingMaterial bool
	contracts       map[string]common.Address
	metrics         *metrics.Recorder
	log             *slog.Logger

	refreshMu sync.Mutex
	current   atomic.Pointer[snapshot]
}

// New 创建一个空目录，需调用 Refresh 填充。
func New(caller Caller, opts ...Option) *Directory {
	d := &Directory{
		caller:         caller,
		senderAlias:    "alice",
		recipientAlias: "bob",
		log:            logger.Named("directory"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.current.Store(d.build(nil))
	return d
}

// Refresh 重新拉取账户列表。失败时保留旧快照并返回 DIRECTORY_UNAVAILABLE。
func (d *Directory) Refresh(ctx context.Context) error {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	resp, err := d.caller.Call(ctx, toolrpc.Request{Tool: toolrpc.ToolGetAccounts})
	if err != nil {
		d.metrics.ObserveRefresh(false, 0)
		d.log.Warn("刷新账户目录失败", "error", err)
		return xerrors.Wrap(CodeDirectoryUnavailable, err, "")
	}
	var remote []toolrpc.Account
	if err := resp.Decode(&remote); err != nil {
		d.metrics.ObserveRefresh(false, 0)
		return xerrors.Wrap(CodeDirectoryUnavailable, err, "malformed get_accounts payload")
	}

	if d.signingMaterial {
		d.mergeSigningMaterial(ctx, remote)
	}

	snap := d.build(remote)
	d.current.Store(snap)
	d.metrics.ObserveRefresh(true, len(snap.accounts))
	d.log.Info("账户目录已刷新", "accounts", len(snap.accounts))
	return nil
}

// mergeSigningMaterial 调用一次 get_signing_material，把导出了密钥的地址标记为可签名。
// 只会把标记置为 true，失败时保留提供方在 get_accounts 中给出的标记。密钥本身不保存。
func (d *Directory) mergeSigningMaterial(ctx context.Context, remote []toolrpc.Account) {
	resp, err := d.caller.Call(ctx, toolrpc.Request{Tool: toolrpc.ToolGetSigningMaterial})
	if err != nil {
		d.log.Warn("获取签名材料失败，沿用提供方的标记", "error", err)
		return
	}
	var material []toolrpc.SigningMaterial
	if err := resp.Decode(&material); err != nil {
		d.log.Warn("签名材料格式错误，沿用提供方的标记", "error", err)
		return
	}
	signable := make(map[common.Address]bool, len(material))
	for _, m := range material {
		if m.PrivateKey != "" {
			signable[m.Address] = true
		}
	}
	for i := range remote {
		remote[i].HasSigningKey = remote[i].HasSigningKey || signable[remote[i].Address]
	}
}

// build 组装快照：位置别名优先，其次是提供方给出的别名，最后追加知名合约。
func (d *Directory) build(remote []toolrpc.Account) *snapshot {
	snap := &snapshot{
		byAlias:     make(map[string]int),
		byAddress:   make(map[common.Address]int),
		refreshedAt: time.Now(),
	}
	add := func(acc Account) {
		if _, dup := snap.byAddress[acc.Address]; dup {
			return
		}
		if acc.Alias != "" {
			if _, taken := snap.byAlias[acc.Alias]; taken {
				d.log.Warn("忽略重复的账户别名", "alias", acc.Alias, "address", acc.Address.Hex())
				acc.Alias = ""
			}
		}
		snap.byAddress[acc.Address] = len(snap.accounts)
		if acc.Alias != "" {
			snap.byAlias[acc.Alias] = len(snap.accounts)
		}
		snap.accounts = append(snap.accounts, acc)
	}

	for i, r := range remote {
		alias := normalize(r.Alias)
		switch i {
		case 0:
			alias = d.senderAlias
		case 1:
			alias = d.recipientAlias
		default:
			if alias == d.senderAlias || alias == d.recipientAlias {
				alias = ""
			}
		}
		add(Account{Alias: alias, Address: r.Address, HasSigningKey: r.HasSigningKey})
	}

	names := make([]string, 0, len(d.contracts))
	for name := range d.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add(Account{Alias: name, Address: d.contracts[name]})
	}
	return snap
}

// Lookup 按别名或十六进制地址查询账户。十六进制引用跳过别名匹配，只做结构校验。
func (d *Directory) Lookup(reference string) (Account, error) {
	snap := d.current.Load()
	ref := normalize(reference)
	if ref == "" {
		return Account{}, xerrors.New(CodeAccountNotFound, "empty account reference")
	}

	if LooksHex(ref) {
		if !IsHexAddress(ref) {
			return Account{}, xerrors.New(CodeAccountNotFound, fmt.Sprintf("%q is not a valid address", reference))
		}
		if idx, ok := snap.byAddress[common.HexToAddress(ref)]; ok {
			return snap.accounts[idx], nil
		}
		return Account{}, xerrors.New(CodeAccountNotFound, fmt.Sprintf("address %s is not in the directory", reference))
	}

	if idx, ok := snap.byAlias[ref]; ok {
		return snap.accounts[idx], nil
	}
	return Account{}, xerrors.New(CodeAccountNotFound, fmt.Sprintf("no account named %q", reference))
}

// Accounts 返回当前快照的账户副本。
func (d *Directory) Accounts() []Account {
	snap := d.current.Load()
	out := make([]Account, len(snap.accounts))
	copy(out, snap.accounts)
	return out
}

// RefreshedAt 返回当前快照的生成时间。
func (d *Directory) RefreshedAt() time.Time {
	return d.current.Load().refreshedAt
}

// LooksHex 判断引用是否应按十六进制地址处理。
func LooksHex(ref string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ref)), "0x")
}

// IsHexAddress 要求 0x 前缀加 40 位十六进制字符。
func IsHexAddress(ref string) bool {
	ref = strings.TrimSpace(ref)
	return len(ref) == 42 && LooksHex(ref) && common.IsHexAddress(ref)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
