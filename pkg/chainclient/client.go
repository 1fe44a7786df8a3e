// Package chainclient is a thin wrapper over a single EVM JSON-RPC endpoint.
// It exposes exactly the operations the oracle's control plane needs —
// block height, log queries, receipt/transaction/block lookups, transaction
// submission with an explicit nonce and gas limit, eth_getProof, and
// balance/nonce lookups — and classifies every failure instead of leaving
// callers to string-match go-ethereum errors.
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// minGasPrice is the floor to which a lower gas price is raised before
// signing, matching the teacher's 5 Gwei floor in SendContractTransaction.
var minGasPrice = big.NewInt(5_000_000_000)

// Client wraps one chain's RPC endpoint. A process typically holds two —
// one for the Asset Chain, one for the Payment Chain.
type Client struct {
	eth     *ethclient.Client
	gclient *gethclient.Client
	chainID *big.Int
	url     string
	name    string
}

// New dials url and returns a Client bound to chainID. name is used only in
// log/error prefixes ("asset", "payment") so operators can tell the two
// chains' failures apart.
func New(url string, chainID int64, name string) (*Client, error) {
	rc, err := rpc.DialContext(context.Background(), url)
	if err != nil {
		return nil, &Error{Class: ClassRpcUnavailable, Err: fmt.Errorf("dial %s: %w", name, err)}
	}
	return &Client{
		eth:     ethclient.NewClient(rc),
		gclient: gethclient.New(rc),
		chainID: big.NewInt(chainID),
		url:     url,
		name:    name,
	}, nil
}

// Name returns the human label ("asset" / "payment") passed to New.
func (c *Client) Name() string { return c.name }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

// Logs returns logs matching filter in ascending block/index order, which
// is go-ethereum's native FilterLogs ordering.
func (c *Client) Logs(ctx context.Context, filter ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, filter)
	if err != nil {
		return nil, wrap(err)
	}
	return logs, nil
}

// Receipt returns the receipt for txHash, or (nil, nil) if the transaction
// has not been mined yet.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, nil
		}
		return nil, wrap(err)
	}
	return r, nil
}

// Transaction returns the transaction for txHash and whether it is still
// pending, or (nil, false, nil) if unknown to the node.
func (c *Client) Transaction(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	tx, pending, err := c.eth.TransactionByHash(ctx, txHash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, false, nil
		}
		return nil, false, wrap(err)
	}
	return tx, pending, nil
}

// Block returns the block at number, including its transactions.
func (c *Client) Block(ctx context.Context, number *big.Int) (*types.Block, error) {
	b, err := c.eth.BlockByNumber(ctx, number)
	if err != nil {
		return nil, wrap(err)
	}
	return b, nil
}

// Balance returns the ETH balance of address at the latest block.
func (c *Client) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, wrap(err)
	}
	return bal, nil
}

// TransactionCount returns the next nonce for address, counting pending
// transactions — used by the Nonce Manager to (re)seed its counter.
func (c *Client) TransactionCount(ctx context.Context, address common.Address) (uint64, error) {
	n, err := c.eth.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

// GetProof fetches an eth_getProof state proof for address at blockNumber.
// Returns ErrUnsupported (a soft failure, not wrapped as a Class) if the
// endpoint does not implement the method.
func (c *Client) GetProof(ctx context.Context, address common.Address, storageKeys []string, blockNumber *big.Int) (*gethclient.AccountResult, error) {
	result, err := c.gclient.GetProof(ctx, address, storageKeys, blockNumber)
	if err != nil {
		if isUnsupportedMethod(err) {
			return nil, ErrUnsupported
		}
		return nil, wrap(err)
	}
	return result, nil
}

func isUnsupportedMethod(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, sub := range []string{"method not found", "not supported", "does not exist", "unknown method"} {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Signer holds the private key that Client.Send signs with. Send uses an
// explicit nonce and gas limit and does no internal retry, per spec.md §4.1
// ("no internal retry"); the Transaction Submitter owns retry policy.
type Signer struct {
	PrivateKey *ecdsa.PrivateKey
}

// Address returns the signer's public EVM address.
func (s Signer) Address() common.Address {
	pub := s.PrivateKey.Public().(*ecdsa.PublicKey)
	return crypto.PubkeyToAddress(*pub)
}

// Pending is the result of a successful Send: a submitted, not-yet-mined
// transaction hash.
type Pending struct {
	TxHash common.Hash
}

// Send signs a call to `to` with `data`, using the explicit nonce and gas
// limit supplied by the caller (the Nonce Manager and Submitter), and
// submits it. It does not wait for a receipt — callers poll Receipt.
func (c *Client) Send(ctx context.Context, signer Signer, to common.Address, data []byte, nonce uint64, gasLimit uint64, gasPrice *big.Int) (Pending, error) {
	if gasPrice == nil {
		var err error
		gasPrice, err = c.eth.SuggestGasPrice(ctx)
		if err != nil {
			return Pending{}, wrap(err)
		}
	}
	if gasPrice.Cmp(minGasPrice) < 0 {
		gasPrice = new(big.Int).Set(minGasPrice)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), signer.PrivateKey)
	if err != nil {
		return Pending{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return Pending{}, wrap(err)
	}
	return Pending{TxHash: signedTx.Hash()}, nil
}

// Call performs a read-only eth_call against `to` with `data` at the
// latest block — used for getTrade/getPayment reads.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// Health performs a cheap liveness check against the endpoint: a
// block-number query bounded by a 5-second timeout.
func (c *Client) Health(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.eth.BlockNumber(cctx)
	if err != nil {
		return wrap(err)
	}
	return nil
}

// Raw returns the underlying ethclient, for callers that need lower-level
// access than this package exposes.
func (c *Client) Raw() *ethclient.Client { return c.eth }
