package web3

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// poolABIJSON is the observable interface of the VeilPay pool contract: the
// announce/deposit/withdraw entrypoints, the three events the scanner
// consumes and the read-only root and nullifier views.
const poolABIJSON = `[
	{"type":"function","name":"announce","stateMutability":"nonpayable","inputs":[
		{"name":"schemeId","type":"uint256"},
		{"name":"stealthAddress","type":"address"},
		{"name":"ephemeralPubKey","type":"bytes"},
		{"name":"metadata","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[
		{"name":"commitment","type":"bytes32"},
		{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
		{"name":"proof","type":"uint256[8]"},
		{"name":"root","type":"bytes32"},
		{"name":"nullifierHash","type":"bytes32"},
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getRoot","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"bytes32"}]},
	{"type":"function","name":"isKnownRoot","stateMutability":"view","inputs":[
		{"name":"root","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isNullifierUsed","stateMutability":"view","inputs":[
		{"name":"nullifierHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Announcement","inputs":[
		{"name":"schemeId","type":"uint256","indexed":true},
		{"name":"stealthAddress","type":"address","indexed":true},
		{"name":"caller","type":"address","indexed":true},
		{"name":"ephemeralPubKey","type":"bytes","indexed":false},
		{"name":"metadata","type":"bytes","indexed":false}]},
	{"type":"event","name":"Deposit","inputs":[
		{"name":"commitment","type":"bytes32","indexed":true},
		{"name":"leafIndex","type":"uint32","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"Withdrawal","inputs":[
		{"name":"recipient","type":"address","indexed":false},
		{"name":"nullifierHash","type":"bytes32","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]}
]`

var poolABI = mustParseABI(poolABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
