package intent

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// RuleSet 是 YAML 规则文件的结构。
type RuleSet struct {
	Operations    []OperationRule   `yaml:"operations"`
	Documentation DocumentationRule `yaml:"documentation"`
}

// OperationRule 描述一条链上操作匹配规则。
type OperationRule struct {
	Name      string            `yaml:"name"`
	Operation Operation         `yaml:"operation"`
	Patterns  []string          `yaml:"patterns"`
	Required  []string          `yaml:"required"`
	Defaults  map[string]string `yaml:"defaults"`
}

// DocumentationRule 要求同时出现疑问词与领域术语。
type DocumentationRule struct {
	Interrogatives []string `yaml:"interrogatives"`
	DomainTerms    []string `yaml:"domain_terms"`
}

// 默认值引用的配置项。
const (
	DefaultSenderRef    = "default_sender"
	DefaultRecipientRef = "default_recipient"
	DefaultAssetRef     = "default_asset"
)

// DefaultRuleSet 返回内置规则。
func DefaultRuleSet() (RuleSet, error) {
	return ParseRuleSet(defaultRules)
}

// LoadRuleSet 从文件读取规则。
func LoadRuleSet(path string) (RuleSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("读取意图规则失败: %w", err)
	}
	return ParseRuleSet(content)
}

// ParseRuleSet 解析并校验 YAML 规则。
func ParseRuleSet(content []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(content, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("解析意图规则失败: %w", err)
	}
	for _, rule := range rs.Operations {
		switch rule.Operation {
		case OperationTransfer, OperationBalanceQuery, OperationDeploymentCheck:
		default:
			return RuleSet{}, fmt.Errorf("规则 %s 使用了未知操作 %q", rule.Name, rule.Operation)
		}
		if len(rule.Patterns) == 0 {
			return RuleSet{}, fmt.Errorf("规则 %s 没有匹配模式", rule.Name)
		}
		for slot, ref := range rule.Defaults {
			switch ref {
			case DefaultSenderRef, DefaultRecipientRef, DefaultAssetRef:
			default:
				return RuleSet{}, fmt.Errorf("规则 %s 的槽位 %s 引用了未知默认值 %q", rule.Name, slot, ref)
			}
		}
	}
	return rs, nil
}

type compiledRule struct {
	name      string
	operation Operation
	patterns  []*regexp.Regexp
	required  []string
	defaults  map[string]string
}

func compile(rs RuleSet) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rs.Operations))
	for _, rule := range rs.Operations {
		cr := compiledRule{
			name:      rule.Name,
			operation: rule.Operation,
			required:  rule.Required,
			defaults:  rule.Defaults,
		}
		for _, raw := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + raw)
			if err != nil {
				return nil, fmt.Errorf("编译规则 %s 失败: %w", rule.Name, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		out = append(out, cr)
	}
	return out, nil
}

func termSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Join(tokenize(w), " ")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
