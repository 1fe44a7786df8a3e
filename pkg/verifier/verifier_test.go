package verifier

import (
	"io"
	"log"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/certen/crosschain-oracle/pkg/oracle"
)

func TestRequiredConfirmations(t *testing.T) {
	weiPerEth := func(n float64) *big.Int {
		f := new(big.Float).Mul(big.NewFloat(n), big.NewFloat(1e18))
		i, _ := f.Int(nil)
		return i
	}

	cases := []struct {
		name string
		wei  *big.Int
		want uint64
	}{
		{"10 eth exactly", weiPerEth(10), 30},
		{"large amount", weiPerEth(100), 30},
		{"1 eth exactly", weiPerEth(1), 20},
		{"just under 10 eth", weiPerEth(9.9), 20},
		{"0.1 eth exactly", weiPerEth(0.1), 15},
		{"just under 1 eth", weiPerEth(0.9), 15},
		{"below 0.1 eth", weiPerEth(0.01), 10},
		{"zero", big.NewInt(0), 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := requiredConfirmations(tc.wei); got != tc.want {
				t.Errorf("requiredConfirmations(%s) = %d, want %d", tc.wei.String(), got, tc.want)
			}
		})
	}
}

func TestBlockContainsTx(t *testing.T) {
	header := &types.Header{Number: big.NewInt(1)}
	tx := types.NewTransaction(0, common.HexToAddress("0x1"), big.NewInt(0), 21000, big.NewInt(1), nil)
	block := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: []*types.Transaction{tx}})

	if !blockContainsTx(block, tx.Hash()) {
		t.Fatalf("expected block to contain its own transaction")
	}
	if blockContainsTx(block, common.HexToHash("0xdeadbeef")) {
		t.Fatalf("expected block not to contain an unrelated hash")
	}
}

func TestDecodePaymentCompleted(t *testing.T) {
	contractAddr := common.HexToAddress("0xabc")
	v := New(nil, contractAddr, 0, log.New(io.Discard, "", 0))

	paymentID := big.NewInt(42)
	recipient := common.HexToAddress("0xdef")
	amount := big.NewInt(1_000_000)

	data, err := oracle.EscrowABI.Events["PaymentCompleted"].Inputs.Pack(paymentID, recipient, amount)
	if err != nil {
		t.Fatalf("failed to pack PaymentCompleted data: %v", err)
	}

	goodLog := &types.Log{
		Address: contractAddr,
		Topics:  []common.Hash{oracle.PaymentCompletedTopic},
		Data:    data,
	}

	t.Run("matching log is decoded", func(t *testing.T) {
		gotID, gotRecipient, gotAmount, err := v.decodePaymentCompleted([]*types.Log{goodLog})
		if err != nil {
			t.Fatalf("decodePaymentCompleted() error = %v", err)
		}
		if gotID.Cmp(paymentID) != 0 {
			t.Errorf("payment id = %s, want %s", gotID, paymentID)
		}
		if gotRecipient != recipient {
			t.Errorf("recipient = %s, want %s", gotRecipient, recipient)
		}
		if gotAmount.Cmp(amount) != 0 {
			t.Errorf("amount = %s, want %s", gotAmount, amount)
		}
	})

	t.Run("wrong contract address is skipped", func(t *testing.T) {
		wrongAddrLog := &types.Log{
			Address: common.HexToAddress("0x999"),
			Topics:  []common.Hash{oracle.PaymentCompletedTopic},
			Data:    data,
		}
		if _, _, _, err := v.decodePaymentCompleted([]*types.Log{wrongAddrLog}); err != ErrEventNotFound {
			t.Fatalf("expected ErrEventNotFound, got %v", err)
		}
	})

	t.Run("no logs", func(t *testing.T) {
		if _, _, _, err := v.decodePaymentCompleted(nil); err != ErrEventNotFound {
			t.Fatalf("expected ErrEventNotFound, got %v", err)
		}
	})
}
