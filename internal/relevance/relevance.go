// Package relevance is the rule-based 3-tier classifier that runs on every
// ingested article before C6's LLM extraction: a word-boundary pattern match
// over crypto-native vocabulary (tier 3), finance/tech adjacency terms (tier
// 2), or neither (tier 1). Pure, no LLM call, grounded in the same
// coin-pattern-table idiom the pack's crypto aggregators use for coin
// mention detection.
package relevance

import (
	"regexp"
	"strings"

	"narrative-core/internal/core"
)

// coinPattern is one crypto-native term and its compiled word-boundary
// matchers (symbol plus any aliases).
type coinPattern struct {
	symbol   string
	patterns []*regexp.Regexp
}

func compilePattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
}

// cryptoNativeCoins are tier-3 signals: tickers, project names, and on-chain
// vocabulary clear enough that an LLM call is worth paying for.
var cryptoNativeCoins = []struct {
	symbol string
	names  []string
}{
	{"BTC", []string{"bitcoin", "btc"}},
	{"ETH", []string{"ethereum", "eth", "ether"}},
	{"BNB", []string{"binance coin", "bnb"}},
	{"SOL", []string{"solana", "sol"}},
	{"XRP", []string{"ripple", "xrp"}},
	{"DOGE", []string{"dogecoin", "doge"}},
	{"ADA", []string{"cardano", "ada"}},
	{"AVAX", []string{"avalanche", "avax"}},
	{"LTC", []string{"litecoin", "ltc"}},
	{"DOT", []string{"polkadot"}},
	{"LINK", []string{"chainlink"}},
	{"MATIC", []string{"polygon", "matic"}},
	{"FIL", []string{"filecoin"}},
	{"USDT", []string{"tether", "usdt"}},
	{"USDC", []string{"usdc", "usd coin"}},
}

var cryptoNativeVocabulary = []string{
	"blockchain", "on-chain", "onchain", "defi", "nft", "smart contract",
	"stablecoin", "mining", "staking", "airdrop", "tokenomics", "wallet address",
	"exchange listing", "delisting", "hard fork", "layer 2", "gas fee",
	"crypto exchange", "cryptocurrency", "altcoin", "web3", "dao",
}

var adjacentTerms = []string{
	"sec", "regulation", "regulator", "federal reserve", "interest rate",
	"etf", "hedge fund", "venture capital", "ipo", "inflation",
	"central bank", "treasury", "securities", "commodity", "derivative",
	"fintech", "payment processor", "startup funding",
}

var cryptoPatterns []coinPattern
var vocabularyPatterns []*regexp.Regexp
var adjacentPatterns []*regexp.Regexp

func init() {
	cryptoPatterns = make([]coinPattern, 0, len(cryptoNativeCoins))
	for _, c := range cryptoNativeCoins {
		cp := coinPattern{symbol: c.symbol}
		for _, name := range c.names {
			cp.patterns = append(cp.patterns, compilePattern(name))
		}
		cryptoPatterns = append(cryptoPatterns, cp)
	}

	for _, term := range cryptoNativeVocabulary {
		vocabularyPatterns = append(vocabularyPatterns, compilePattern(term))
	}
	for _, term := range adjacentTerms {
		adjacentPatterns = append(adjacentPatterns, compilePattern(term))
	}
}

// Result is the classifier's output for one article: the tier plus which
// crypto ticker symbols (if any) were matched, handed to C6 as a hint.
type Result struct {
	Tier           core.RelevanceTier
	MatchedSymbols []string
}

// Classify scores title+body text into one of the three relevance tiers.
// It never errors and never blocks on I/O: every article is ingested
// regardless of tier (tier 1 articles simply never reach the LLM).
func Classify(title, body string) Result {
	text := strings.ToLower(title + " " + body)

	var symbols []string
	seen := make(map[string]bool)
	for _, cp := range cryptoPatterns {
		for _, p := range cp.patterns {
			if p.MatchString(text) {
				if !seen[cp.symbol] {
					seen[cp.symbol] = true
					symbols = append(symbols, cp.symbol)
				}
				break
			}
		}
	}

	if len(symbols) > 0 {
		return Result{Tier: core.TierCryptoNative, MatchedSymbols: symbols}
	}

	for _, p := range vocabularyPatterns {
		if p.MatchString(text) {
			return Result{Tier: core.TierCryptoNative}
		}
	}

	for _, p := range adjacentPatterns {
		if p.MatchString(text) {
			return Result{Tier: core.TierAdjacent}
		}
	}

	return Result{Tier: core.TierIrrelevant}
}
