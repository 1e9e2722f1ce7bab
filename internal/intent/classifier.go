package intent

import (
	"regexp"
	"strings"
	"unicode"
)

// Defaults 是未提及槽位的默认值。
type Defaults struct {
	Sender    string
	Recipient string
	Asset     string
}

// Option 定义分类器的可选配置。
type Option func(*options)

type options struct {
	rules       *RuleSet
	domainTerms []string
}

// WithRuleSet 替换内置规则。
func WithRuleSet(rs RuleSet) Option {
	return func(o *options) {
		o.rules = &rs
	}
}

// WithDomainTerms 追加文档查询的领域术语。
func WithDomainTerms(terms []string) Option {
	return func(o *options) {
		o.domainTerms = append(o.domainTerms, terms...)
	}
}

// Classifier 按层匹配：链上操作规则、文档查询、闲聊兜底。
type Classifier struct {
	defaults       Defaults
	rules          []compiledRule
	interrogatives map[string]struct{}
	domainTerms    map[string]struct{}
}

// NewClassifier 编译规则并返回分类器。
func NewClassifier(defaults Defaults, opts ...Option) (*Classifier, error) {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.rules == nil {
		rs, err := DefaultRuleSet()
		if err != nil {
			return nil, err
		}
		o.rules = &rs
	}
	rules, err := compile(*o.rules)
	if err != nil {
		return nil, err
	}
	defaults.Asset = strings.ToUpper(strings.TrimSpace(defaults.Asset))
	return &Classifier{
		defaults:       defaults,
		rules:          rules,
		interrogatives: termSet(o.rules.Documentation.Interrogatives),
		domainTerms:    termSet(append(append([]string{}, o.rules.Documentation.DomainTerms...), o.domainTerms...)),
	}, nil
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

// Classify 对任意输入都返回一个意图。只有链上操作在补全默认值后仍缺少槽位时返回
// INCOMPLETE_ENTITIES，此时意图依然有效，便于提示用户补充信息。
func (c *Classifier) Classify(text string) (Intent, error) {
	trimmed := strings.TrimSpace(apostrophes.Replace(text))
	in := Intent{RawText: text, Category: CategoryGeneralChat}
	if trimmed == "" {
		return in, nil
	}

	for _, rule := range c.rules {
		for _, re := range rule.patterns {
			match := re.FindStringSubmatch(trimmed)
			if match == nil {
				continue
			}
			in.Category = CategoryBlockchainOperation
			in.Operation = rule.operation
			in.Rule = rule.name
			in.Entities = extract(re, match)
			return in, c.complete(&in, rule)
		}
	}

	if c.isDocumentationQuery(trimmed) {
		in.Category = CategoryDocumentationQuery
		in.Rule = "documentation"
	}
	return in, nil
}

func extract(re *regexp.Regexp, match []string) map[string]string {
	entities := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name == "" || i >= len(match) {
			continue
		}
		if v := cleanSlot(name, match[i]); v != "" {
			entities[name] = v
		}
	}
	return entities
}

// complete 填充默认值并校验必填槽位与金额格式。
func (c *Classifier) complete(in *Intent, rule compiledRule) error {
	for slot, v := range in.Entities {
		if v == selfReference {
			in.Entities[slot] = c.defaults.Sender
		}
	}
	for slot, ref := range rule.defaults {
		if in.Entities[slot] != "" {
			continue
		}
		if v := c.defaultFor(ref); v != "" {
			in.Entities[slot] = v
		}
	}

	var missing []string
	for _, slot := range rule.required {
		if in.Entities[slot] == "" {
			missing = append(missing, slot)
		}
	}
	if len(missing) > 0 {
		return Incomplete(clarification(in.Operation, missing), missing...)
	}

	if amount, ok := in.Entities[SlotAmount]; ok {
		normalized, valid := normalizeAmount(amount)
		if !valid {
			return Incomplete("the amount must be a non-negative decimal number, e.g. 0.5", SlotAmount)
		}
		in.Entities[SlotAmount] = normalized
	}
	return nil
}

func (c *Classifier) defaultFor(ref string) string {
	switch ref {
	case DefaultSenderRef:
		return c.defaults.Sender
	case DefaultRecipientRef:
		return c.defaults.Recipient
	case DefaultAssetRef:
		return c.defaults.Asset
	}
	return ""
}

func clarification(op Operation, missing []string) string {
	switch {
	case op == OperationTransfer && missing[0] == SlotAmount:
		return "how much should I send? Try: send 0.5 ETH to bob"
	case op == OperationDeploymentCheck:
		return "which contract should I check? Give an alias or a 0x address"
	case op == OperationBalanceQuery:
		return "whose balance should I check? Give an alias or a 0x address"
	}
	return "please specify " + strings.Join(missing, " and ")
}

func (c *Classifier) isDocumentationQuery(text string) bool {
	tokens := tokenize(text)
	asked := false
	for _, tok := range tokens {
		if _, ok := c.interrogatives[tok]; ok {
			asked = true
			break
		}
	}
	if !asked {
		return false
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for term := range c.domainTerms {
		if strings.Contains(joined, " "+term+" ") || strings.Contains(joined, " "+term+"s ") {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var (
	hexAddressPattern = regexp.MustCompile(`0[xX][0-9a-fA-F]{40}`)

	// selfReference 标记“我”，补全阶段替换为默认发送方。
	selfReference  = "\x00self"
	selfReferences = map[string]struct{}{"i": {}, "me": {}, "my": {}, "myself": {}, "mine": {}, "my account": {}, "my wallet": {}}
)

// cleanSlot 规整单个槽位的原始文本。地址槽位中出现的完整十六进制地址优先于周围的名称。
func cleanSlot(slot, raw string) string {
	v := strings.TrimSpace(raw)
	switch slot {
	case SlotAsset:
		return strings.ToUpper(v)
	case SlotAmount:
		return v
	case SlotFrom, SlotTo, SlotAddress:
		if hex := hexAddressPattern.FindString(v); hex != "" {
			return hex
		}
		v = strings.Trim(v, " \t.,!?;:\"'()")
		lower := strings.ToLower(v)
		for _, prefix := range []string{"the ", "account ", "wallet "} {
			if strings.HasPrefix(lower, prefix) {
				v = strings.TrimSpace(v[len(prefix):])
				lower = strings.ToLower(v)
			}
		}
		if _, self := selfReferences[lower]; self {
			return selfReference
		}
		return v
	}
	return v
}

// amountPattern 接受普通十进制数，或整数部分按三位分组的千位分隔写法。
var amountPattern = regexp.MustCompile(`^(?:\d{1,3}(?:,\d{3})+|\d*)(?:\.\d+)?$`)

// normalizeAmount 校验为非负十进制数并去掉千位分隔符。
func normalizeAmount(raw string) (string, bool) {
	v := strings.TrimPrefix(strings.TrimSpace(raw), "+")
	if v == "" || v == "." || !amountPattern.MatchString(v) {
		return "", false
	}
	v = strings.ReplaceAll(v, ",", "")
	if strings.HasPrefix(v, ".") {
		v = "0" + v
	}
	return v, true
}
