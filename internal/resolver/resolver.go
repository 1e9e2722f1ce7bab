// Package resolver 把用户输入的账户引用解析为规范的链上地址。
package resolver

import (
	"context"
	"fmt"
	"strings"

	"ChainPilot/internal/directory"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/toolrpc"

	"github.com/ethereum/go-ethereum/common"
)

// CodeUnresolvedAddress 表示引用无法解析为地址。
const CodeUnresolvedAddress xerrors.Code = "UNRESOLVED_ADDRESS"

// MetaReference 记录无法解析的原始引用。
const MetaReference = "reference"

func init() {
	xerrors.Register(CodeUnresolvedAddress, xerrors.Attributes{
		Message:    "could not resolve account reference",
		Severity:   xerrors.SeverityInfo,
		UserFacing: true,
	})
}

// Unresolved 构造 UNRESOLVED_ADDRESS 错误。
func Unresolved(reference string) *xerrors.Error {
	return xerrors.New(CodeUnresolvedAddress,
		fmt.Sprintf("I don't know who %q is; use an account alias or a 0x address", reference),
		xerrors.WithMetadata(MetaReference, reference))
}

// Directory 是解析器依赖的账户目录。
type Directory interface {
	Lookup(reference string) (directory.Account, error)
}

// NameService 提供只读的域名解析。
type NameService interface {
	ResolveName(ctx context.Context, name string) (common.Address, error)
}

// Resolver 按固定优先级解析引用：别名、十六进制地址、域名服务。
type Resolver struct {
	dir      Directory
	names    NameService
	suffixes []string
}

// New 创建解析器。names 为空时跳过域名解析。
func New(dir Directory, names NameService, suffixes []string) *Resolver {
	normalized := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		normalized = append(normalized, s)
	}
	return &Resolver{dir: dir, names: names, suffixes: normalized}
}

// Resolve 返回 reference 对应的地址，第一个成功的步骤即为结果。
func (r *Resolver) Resolve(ctx context.Context, reference string) (common.Address, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return common.Address{}, Unresolved(reference)
	}

	if acc, err := r.dir.Lookup(ref); err == nil {
		return acc.Address, nil
	}

	if directory.LooksHex(ref) {
		if directory.IsHexAddress(ref) {
			return common.HexToAddress(ref), nil
		}
		return common.Address{}, Unresolved(reference)
	}

	if r.names != nil && r.hasNameSuffix(ref) {
		addr, err := r.names.ResolveName(ctx, strings.ToLower(ref))
		switch {
		case err == nil:
			return addr, nil
		case xerrors.CodeOf(err) == toolrpc.CodeToolUnavailable:
			return common.Address{}, err
		}
	}
	return common.Address{}, Unresolved(reference)
}

func (r *Resolver) hasNameSuffix(ref string) bool {
	lower := strings.ToLower(ref)
	for _, suffix := range r.suffixes {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			return true
		}
	}
	return false
}
