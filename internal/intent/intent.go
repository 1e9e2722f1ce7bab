// Package intent 将自由文本分类为可执行的意图，并抽取其中的实体槽位。
package intent

import (
	"fmt"
	"strings"

	xerrors "ChainPilot/internal/errors"
)

// Category 是意图的大类。
type Category string

const (
	CategoryBlockchainOperation Category = "blockchain_operation"
	CategoryDocumentationQuery  Category = "documentation_query"
	CategoryGeneralChat         Category = "general_chat"
)

// Operation 是链上操作的种类，仅在 CategoryBlockchainOperation 下有效。
type Operation string

const (
	OperationTransfer        Operation = "transfer"
	OperationBalanceQuery    Operation = "balance_query"
	OperationDeploymentCheck Operation = "deployment_check"
)

// 实体槽位名称。
const (
	SlotAmount  = "amount"
	SlotAsset   = "asset"
	SlotFrom    = "from"
	SlotTo      = "to"
	SlotAddress = "address"
)

// CodeIncompleteEntities 表示补全默认值后仍缺少必要槽位。
const CodeIncompleteEntities xerrors.Code = "INCOMPLETE_ENTITIES"

// MetaMissing 列出缺失的槽位，逗号分隔。
const MetaMissing = "missing"

func init() {
	xerrors.Register(CodeIncompleteEntities, xerrors.Attributes{
		Message:    "command is missing required details",
		Severity:   xerrors.SeverityInfo,
		UserFacing: true,
	})
}

// Incomplete 构造 INCOMPLETE_ENTITIES 错误，message 会直接展示给用户。
func Incomplete(message string, missing ...string) *xerrors.Error {
	opts := []xerrors.Option{}
	if len(missing) > 0 {
		opts = append(opts, xerrors.WithMetadata(MetaMissing, strings.Join(missing, ",")))
	}
	return xerrors.New(CodeIncompleteEntities, message, opts...)
}

// Intent 是一次分类的结果，不会被持久化。
type Intent struct {
	Category  Category
	Operation Operation
	RawText   string
	Entities  map[string]string
	// Rule 是命中的规则名，便于日志排查。
	Rule string
}

// Entity 返回槽位的值。
func (i Intent) Entity(slot string) string {
	return i.Entities[slot]
}

// String 用于日志输出。
func (i Intent) String() string {
	if i.Operation != "" {
		return fmt.Sprintf("%s/%s", i.Category, i.Operation)
	}
	return string(i.Category)
}
