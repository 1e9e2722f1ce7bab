package intent

import (
	"testing"

	xerrors "ChainPilot/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T, opts ...Option) *Classifier {
	t.Helper()
	c, err := NewClassifier(Defaults{Sender: "alice", Recipient: "bob", Asset: "eth"}, opts...)
	require.NoError(t, err)
	return c
}

func TestBlockchainOperations(t *testing.T) {
	c := newTestClassifier(t)

	cases := []struct {
		input     string
		operation Operation
		entities  map[string]string
	}{
		{
			input:     "send 1 ETH from Alice to Bob",
			operation: OperationTransfer,
			entities:  map[string]string{SlotAmount: "1", SlotAsset: "ETH", SlotFrom: "Alice", SlotTo: "Bob"},
		},
		{
			input:     "send 0.5 ETH to Bob",
			operation: OperationTransfer,
			entities:  map[string]string{SlotAmount: "0.5", SlotAsset: "ETH", SlotFrom: "alice", SlotTo: "Bob"},
		},
		{
			input:     "Transfer 2 eth to bob from carol.",
			operation: OperationTransfer,
			entities:  map[string]string{SlotAmount: "2", SlotAsset: "ETH", SlotFrom: "carol", SlotTo: "bob"},
		},
		{
			input:     "please send 1,000 usdc to the treasury",
			operation: OperationTransfer,
			entities:  map[string]string{SlotAmount: "1000", SlotAsset: "USDC", SlotFrom: "alice", SlotTo: "treasury"},
		},
		{
			input:     "send .25 to me",
			operation: OperationTransfer,
			entities:  map[string]string{SlotAmount: "0.25", SlotAsset: "ETH", SlotFrom: "alice", SlotTo: "alice"},
		},
		{
			input:     "How much ETH does Alice have?",
			operation: OperationBalanceQuery,
			entities:  map[string]string{SlotAsset: "ETH", SlotAddress: "Alice"},
		},
		{
			input:     "What is the balance of Bob?",
			operation: OperationBalanceQuery,
			entities:  map[string]string{SlotAsset: "ETH", SlotAddress: "Bob"},
		},
		{
			input:     "What’s Alice’s USDC balance?",
			operation: OperationBalanceQuery,
			entities:  map[string]string{SlotAsset: "USDC", SlotAddress: "Alice"},
		},
		{
			input:     "check my balance",
			operation: OperationBalanceQuery,
			entities:  map[string]string{SlotAsset: "ETH", SlotAddress: "alice"},
		},
		{
			input:     "how much usdc do I have",
			operation: OperationBalanceQuery,
			entities:  map[string]string{SlotAsset: "USDC", SlotAddress: "alice"},
		},
		{
			input:     "Is Uniswap V2 Router (0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D) deployed?",
			operation: OperationDeploymentCheck,
			entities:  map[string]string{SlotAddress: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"},
		},
		{
			input:     "is the Uniswap V2 Router deployed",
			operation: OperationDeploymentCheck,
			entities:  map[string]string{SlotAddress: "Uniswap V2 Router"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			in, err := c.Classify(tc.input)
			require.NoError(t, err)
			assert.Equal(t, CategoryBlockchainOperation, in.Category)
			assert.Equal(t, tc.operation, in.Operation)
			assert.Equal(t, tc.entities, in.Entities)
			assert.Equal(t, tc.input, in.RawText)
		})
	}
}

func TestClassifierIsTotal(t *testing.T) {
	c := newTestClassifier(t)

	for _, input := range []string{"", "   ", "GM", "こんにちは", "送 1 ETH 给 Bob", "tell me a joke", "🙂🙂", "\x00\xff"} {
		in, err := c.Classify(input)
		require.NoError(t, err, input)
		assert.Equal(t, CategoryGeneralChat, in.Category, input)
		assert.Empty(t, in.Operation, input)
		assert.Empty(t, in.Entities, input)
	}
}

func TestDocumentationQueries(t *testing.T) {
	c := newTestClassifier(t, WithDomainTerms([]string{"Aave"}))

	for _, input := range []string{
		"How does Uniswap V2 calculate slippage?",
		"What is the purpose of the router contract?",
		"Can you explain the relationship between pools and pairs?",
		"what is aave",
	} {
		in, err := c.Classify(input)
		require.NoError(t, err)
		assert.Equal(t, CategoryDocumentationQuery, in.Category, input)
	}

	in, err := c.Classify("uniswap is great")
	require.NoError(t, err)
	assert.Equal(t, CategoryDocumentationQuery, in.Category, "'is' counts as an interrogative token")

	in, err = c.Classify("pools pools pools")
	require.NoError(t, err)
	assert.Equal(t, CategoryGeneralChat, in.Category)
}

func TestIncompleteEntities(t *testing.T) {
	c := newTestClassifier(t)

	in, err := c.Classify("send ETH to bob")
	require.Error(t, err)
	assert.Equal(t, CodeIncompleteEntities, xerrors.CodeOf(err))
	assert.Equal(t, SlotAmount, xerrors.MetadataOf(err, MetaMissing))
	assert.Equal(t, OperationTransfer, in.Operation)
	assert.True(t, xerrors.IsUserFacing(err))

	_, err = c.Classify("send -1 ETH to bob")
	assert.Equal(t, CodeIncompleteEntities, xerrors.CodeOf(err))

	noDefaults, err := NewClassifier(Defaults{})
	require.NoError(t, err)
	_, err = noDefaults.Classify("send 1 to bob")
	require.Error(t, err)
	assert.Equal(t, "asset,from", xerrors.MetadataOf(err, MetaMissing))
}

func TestTransferNeedsRecipient(t *testing.T) {
	c := newTestClassifier(t)

	for _, input := range []string{"send 1 ETH", "send 1 ETH from alice", "transfer 0.5"} {
		in, err := c.Classify(input)
		require.NoError(t, err, input)
		assert.Equal(t, CategoryGeneralChat, in.Category, input)
		assert.Empty(t, in.Operation, input)
	}
}

func TestAmountGrouping(t *testing.T) {
	c := newTestClassifier(t)

	for _, input := range []string{"send 1,,0 eth to bob", "send 1,0000 eth to bob", "send ,100 eth to bob", "send 12,34.5 eth to bob"} {
		in, err := c.Classify(input)
		require.Error(t, err, input)
		assert.Equal(t, CodeIncompleteEntities, xerrors.CodeOf(err), input)
		assert.Equal(t, SlotAmount, xerrors.MetadataOf(err, MetaMissing), input)
		assert.Equal(t, OperationTransfer, in.Operation, input)
	}

	in, err := c.Classify("send 12,345,678.9 usdc to bob")
	require.NoError(t, err)
	assert.Equal(t, "12345678.9", in.Entities[SlotAmount])
}

func TestNormalizeAmount(t *testing.T) {
	cases := map[string]string{"1": "1", "+2.5": "2.5", ".25": "0.25", "1,000": "1000", "0.000001": "0.000001"}
	for raw, want := range cases {
		got, ok := normalizeAmount(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"", ".", "-1", "1,,0", "1,00", "1.2.3", "1e3"} {
		_, ok := normalizeAmount(raw)
		assert.False(t, ok, raw)
	}
}

func TestCustomRuleSet(t *testing.T) {
	rs, err := ParseRuleSet([]byte(`
operations:
  - name: gimme
    operation: balance_query
    patterns: ['^gimme\s+(?P<address>\w+)$']
    required: [address, asset]
    defaults: {asset: default_asset}
documentation:
  interrogatives: [why]
  domain_terms: [gas]
`))
	require.NoError(t, err)
	c := newTestClassifier(t, WithRuleSet(rs))

	in, err := c.Classify("GIMME bob")
	require.NoError(t, err)
	assert.Equal(t, "gimme", in.Rule)
	assert.Equal(t, map[string]string{SlotAddress: "bob", SlotAsset: "ETH"}, in.Entities)

	in, err = c.Classify("send 1 ETH to bob")
	require.NoError(t, err)
	assert.Equal(t, CategoryGeneralChat, in.Category)

	in, err = c.Classify("why is gas so high")
	require.NoError(t, err)
	assert.Equal(t, CategoryDocumentationQuery, in.Category)
}

func TestRuleSetValidation(t *testing.T) {
	_, err := ParseRuleSet([]byte("operations:\n  - name: x\n    operation: mint\n    patterns: ['x']\n"))
	assert.ErrorContains(t, err, "mint")

	_, err = ParseRuleSet([]byte("operations:\n  - name: x\n    operation: transfer\n    patterns: ['x']\n    defaults: {from: somebody}\n"))
	assert.ErrorContains(t, err, "somebody")

	_, err = ParseRuleSet([]byte("operations:\n  - name: x\n    operation: transfer\n"))
	assert.Error(t, err)

	rs, err := ParseRuleSet([]byte("operations:\n  - name: x\n    operation: transfer\n    patterns: ['(']\n"))
	require.NoError(t, err)
	_, err = NewClassifier(Defaults{}, WithRuleSet(rs))
	assert.Error(t, err)
}

func TestDefaultRulesParse(t *testing.T) {
	rs, err := DefaultRuleSet()
	require.NoError(t, err)
	assert.NotEmpty(t, rs.Operations)
	assert.NotEmpty(t, rs.Documentation.DomainTerms)
}
