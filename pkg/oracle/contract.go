package oracle

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// escrowABIJSON declares only the events and functions spec.md §6 lists as
// external interfaces; the contracts' own internal Solidity logic is an
// out-of-scope collaborator (spec.md §1), so nothing else is declared
// here. Both the Asset and Payment contracts share this interface.
const escrowABIJSON = `[
	{"type":"event","name":"TimeRequestSent","inputs":[
		{"name":"requestId","type":"bytes32","indexed":false},
		{"name":"tradeId","type":"uint256","indexed":false},
		{"name":"duration","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"PaymentCompleted","inputs":[
		{"name":"paymentId","type":"uint256","indexed":false},
		{"name":"recipient","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"function","name":"fulfillTime","stateMutability":"nonpayable","inputs":[
		{"name":"requestId","type":"bytes32"},
		{"name":"timestamp","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"handleFailedConfirmation","stateMutability":"nonpayable","inputs":[
		{"name":"id","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"handleExecutionTimeout","stateMutability":"nonpayable","inputs":[
		{"name":"id","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"getTrade","stateMutability":"view","inputs":[
		{"name":"tradeId","type":"uint256"}
	],"outputs":[
		{"name":"id","type":"uint256"},
		{"name":"amount","type":"uint256"},
		{"name":"buyer","type":"address"},
		{"name":"seller","type":"address"},
		{"name":"state","type":"uint8"},
		{"name":"inceptionTime","type":"uint256"},
		{"name":"confirmationTime","type":"uint256"},
		{"name":"duration","type":"uint256"}
	]},
	{"type":"function","name":"getPayment","stateMutability":"view","inputs":[
		{"name":"paymentId","type":"uint256"}
	],"outputs":[
		{"name":"id","type":"uint256"},
		{"name":"amount","type":"uint256"},
		{"name":"buyer","type":"address"},
		{"name":"seller","type":"address"},
		{"name":"state","type":"uint8"},
		{"name":"inceptionTime","type":"uint256"},
		{"name":"confirmationTime","type":"uint256"},
		{"name":"duration","type":"uint256"},
		{"name":"assetTradeId","type":"uint256"}
	]}
]`

// EscrowABI is the parsed ABI shared by both chains' escrow contracts.
var EscrowABI abi.ABI

// TimeRequestSentTopic and PaymentCompletedTopic are the precomputed
// topic-0 selectors for the two consumed events, following the teacher's
// event_watcher.go pattern of hashing canonical signatures once in init()
// rather than re-hashing per log.
var (
	TimeRequestSentTopic  common.Hash
	PaymentCompletedTopic common.Hash
)

func init() {
	var err error
	EscrowABI, err = abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		panic("oracle: invalid embedded escrow ABI: " + err.Error())
	}
	TimeRequestSentTopic = crypto.Keccak256Hash([]byte("TimeRequestSent(bytes32,uint256,uint256)"))
	PaymentCompletedTopic = crypto.Keccak256Hash([]byte("PaymentCompleted(uint256,address,uint256)"))
}

// TradeState mirrors the contract-side enum from spec.md §6.
type TradeState uint8

const (
	StateInitiated TradeState = iota
	StateAwaitingConfirmation
	StateConfirmed
	StateCompleted
	StateFailed
)

func (s TradeState) String() string {
	switch s {
	case StateInitiated:
		return "Initiated"
	case StateAwaitingConfirmation:
		return "AwaitingConfirmation"
	case StateConfirmed:
		return "Confirmed"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is Completed or Failed.
func (s TradeState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// OnChainTrade is the decoded return value of getTrade/getPayment.
type OnChainTrade struct {
	ID               *big.Int
	Amount           *big.Int
	Buyer            common.Address
	Seller           common.Address
	State            TradeState
	InceptionTime    uint64
	ConfirmationTime uint64
	Duration         uint64
	AssetTradeID     *big.Int // only populated for getPayment
}

// PackFulfillTime packs a call to fulfillTime(requestId, timestamp).
func PackFulfillTime(requestID [32]byte, timestamp uint64) ([]byte, error) {
	return EscrowABI.Pack("fulfillTime", requestID, new(big.Int).SetUint64(timestamp))
}

// PackHandleFailedConfirmation packs a call to handleFailedConfirmation(id).
func PackHandleFailedConfirmation(id *big.Int) ([]byte, error) {
	return EscrowABI.Pack("handleFailedConfirmation", id)
}

// PackHandleExecutionTimeout packs a call to handleExecutionTimeout(id).
func PackHandleExecutionTimeout(id *big.Int) ([]byte, error) {
	return EscrowABI.Pack("handleExecutionTimeout", id)
}

// PackGetTrade packs a call to getTrade(tradeId).
func PackGetTrade(id *big.Int) ([]byte, error) {
	return EscrowABI.Pack("getTrade", id)
}

// PackGetPayment packs a call to getPayment(paymentId).
func PackGetPayment(id *big.Int) ([]byte, error) {
	return EscrowABI.Pack("getPayment", id)
}

// UnpackTrade decodes a getTrade return value.
func UnpackTrade(data []byte) (OnChainTrade, error) {
	vals, err := EscrowABI.Unpack("getTrade", data)
	if err != nil {
		return OnChainTrade{}, err
	}
	return OnChainTrade{
		ID:               vals[0].(*big.Int),
		Amount:           vals[1].(*big.Int),
		Buyer:            vals[2].(common.Address),
		Seller:           vals[3].(common.Address),
		State:            TradeState(vals[4].(uint8)),
		InceptionTime:    vals[5].(*big.Int).Uint64(),
		ConfirmationTime: vals[6].(*big.Int).Uint64(),
		Duration:         vals[7].(*big.Int).Uint64(),
	}, nil
}

// UnpackPayment decodes a getPayment return value.
func UnpackPayment(data []byte) (OnChainTrade, error) {
	vals, err := EscrowABI.Unpack("getPayment", data)
	if err != nil {
		return OnChainTrade{}, err
	}
	return OnChainTrade{
		ID:               vals[0].(*big.Int),
		Amount:           vals[1].(*big.Int),
		Buyer:            vals[2].(common.Address),
		Seller:           vals[3].(common.Address),
		State:            TradeState(vals[4].(uint8)),
		InceptionTime:    vals[5].(*big.Int).Uint64(),
		ConfirmationTime: vals[6].(*big.Int).Uint64(),
		Duration:         vals[7].(*big.Int).Uint64(),
		AssetTradeID:     vals[8].(*big.Int),
	}, nil
}

// DecodeTimeRequestSent unpacks a TimeRequestSent log's non-indexed fields
// (all three fields are non-indexed per spec.md §6's signature).
func DecodeTimeRequestSent(log types.Log) (requestID [32]byte, tradeID *big.Int, duration uint64, err error) {
	vals, err := EscrowABI.Unpack("TimeRequestSent", log.Data)
	if err != nil {
		return requestID, nil, 0, err
	}
	requestID = vals[0].([32]byte)
	tradeID = vals[1].(*big.Int)
	duration = vals[2].(*big.Int).Uint64()
	return requestID, tradeID, duration, nil
}

// DecodePaymentCompleted unpacks a PaymentCompleted log.
func DecodePaymentCompleted(log types.Log) (paymentID *big.Int, recipient common.Address, amount *big.Int, err error) {
	vals, err := EscrowABI.Unpack("PaymentCompleted", log.Data)
	if err != nil {
		return nil, common.Address{}, nil, err
	}
	paymentID = vals[0].(*big.Int)
	recipient = vals[1].(common.Address)
	amount = vals[2].(*big.Int)
	return paymentID, recipient, amount, nil
}
