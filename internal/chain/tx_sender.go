package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/metrics"
)

var ErrTransactionReverted = errors.New("transaction reverted")

const defaultConfirmTimeout = 2 * time.Minute

// TxBackend is the part of ethclient.Client the sender needs
type TxBackend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxSenderOptions optional overrides, zero values mean "ask the node"
type TxSenderOptions struct {
	GasLimit       uint64
	GasPrice       *big.Int
	ConfirmTimeout time.Duration
}

// TxSender signs and submits TaskManager calls from a single key
type TxSender struct {
	backend TxBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	to      common.Address
	chainID *big.Int
	opts    TxSenderOptions
	logger  *logrus.Logger

	// nonce allocation and submission are serialized
	mu sync.Mutex
}

// NewTxSender checks the node serves expectedChainID and loads the hex private key
func NewTxSender(ctx context.Context, backend TxBackend, privateKeyHex string, to common.Address, expectedChainID uint64, opts TxSenderOptions, logger *logrus.Logger) (*TxSender, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	chainID, err := backend.ChainID(checkCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Uint64() != expectedChainID {
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", expectedChainID, chainID.Uint64())
	}

	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}

	return &TxSender{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		to:      to,
		chainID: chainID,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Address signing identity of this node
func (s *TxSender) Address() common.Address {
	return s.from
}

// Send submits calldata to the contract and waits for it to be mined.
// A mined but reverted transaction returns its receipt and ErrTransactionReverted.
func (s *TxSender) Send(ctx context.Context, method string, data []byte) (*types.Receipt, error) {
	signedTx, err := s.submit(ctx, data)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues(method, "submit_failed").Inc()
		return nil, err
	}

	logger := s.logger.WithFields(logrus.Fields{
		"method":  method,
		"tx_hash": signedTx.Hash().Hex(),
		"nonce":   signedTx.Nonce(),
	})
	logger.Info("Transaction submitted, waiting to be mined")

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, s.backend, signedTx)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues(method, "unconfirmed").Inc()
		return nil, fmt.Errorf("failed to wait for %s: %w", signedTx.Hash().Hex(), err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		metrics.TransactionsTotal.WithLabelValues(method, "reverted").Inc()
		logger.WithField("block", receipt.BlockNumber).Error("Transaction reverted")
		return receipt, fmt.Errorf("%w: %s %s", ErrTransactionReverted, method, signedTx.Hash().Hex())
	}

	metrics.TransactionsTotal.WithLabelValues(method, "success").Inc()
	logger.WithFields(logrus.Fields{
		"block":    receipt.BlockNumber,
		"gas_used": receipt.GasUsed,
	}).Info("Transaction mined")
	return receipt, nil
}

func (s *TxSender) submit(ctx context.Context, data []byte) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice := s.opts.GasPrice
	if gasPrice == nil {
		gasPrice, err = s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
	}

	gasLimit := s.opts.GasLimit
	if gasLimit == 0 {
		estimated, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:     s.from,
			To:       &s.to,
			GasPrice: gasPrice,
			Data:     data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		// 20% headroom
		gasLimit = estimated + estimated/5
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &s.to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx, nil
}
