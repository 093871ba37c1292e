package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownProverType     = errors.New("unknown prover type")
	ErrMissingReceipt        = errors.New("proof submission has no receipt")
	ErrMissingGroth16Receipt = errors.New("receipt is not wrapped in a Groth16 proof")
	ErrMissingSP1Proof       = errors.New("proof submission has no sp1 proof or verifying key")
)

// Journal public outputs committed by the guest program
type Journal struct {
	Bytes ByteArray `json:"bytes"`
}

// Groth16Receipt succinct on-chain verifiable wrapper around a receipt
type Groth16Receipt struct {
	Seal               ByteArray       `json:"seal"`
	Claim              json.RawMessage `json:"claim,omitempty"`
	VerifierParameters json.RawMessage `json:"verifier_parameters,omitempty"`
}

// InnerReceipt holds exactly one proof-system specific variant.
// Only Groth16 is understood, the rest are carried opaquely.
type InnerReceipt struct {
	Groth16   *Groth16Receipt `json:"Groth16,omitempty"`
	Succinct  json.RawMessage `json:"Succinct,omitempty"`
	Composite json.RawMessage `json:"Composite,omitempty"`
	Fake      json.RawMessage `json:"Fake,omitempty"`
}

// Receipt RiscZero proof artifact: a journal plus a seal
type Receipt struct {
	Inner    InnerReceipt    `json:"inner"`
	Journal  Journal         `json:"journal"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Groth16 returns the Groth16 wrapper or ErrMissingGroth16Receipt
func (r *Receipt) Groth16() (*Groth16Receipt, error) {
	if r == nil || r.Inner.Groth16 == nil {
		return nil, ErrMissingGroth16Receipt
	}
	return r.Inner.Groth16, nil
}

// ProofSubmission response of the off-chain proving service.
// ProverType selects which of the payload fields is meaningful.
type ProofSubmission struct {
	Receipt      *Receipt        `json:"receipt"`
	SP1Proof     json.RawMessage `json:"sp1proof"`
	VerifyingKey json.RawMessage `json:"vk"`
	ProverType   ProverType      `json:"prover_type"`
}

// ProofPayload is implemented by RiscZeroPayload and SP1Payload only.
type ProofPayload interface {
	Kind() ProverType
	isProofPayload()
}

// RiscZeroPayload hash-verifiable material extracted from a RiscZero receipt
type RiscZeroPayload struct {
	Journal []byte
	Seal    []byte
}

func (RiscZeroPayload) Kind() ProverType { return ProverTypeRiscZero }
func (RiscZeroPayload) isProofPayload()  {}

// SP1Payload is accepted and recorded but never hash-verified.
type SP1Payload struct {
	Proof        json.RawMessage
	VerifyingKey json.RawMessage
}

func (SP1Payload) Kind() ProverType { return ProverTypeSP1 }
func (SP1Payload) isProofPayload()  {}

// Payload resolves the submission into its prover-specific variant
func (s *ProofSubmission) Payload() (ProofPayload, error) {
	switch s.ProverType {
	case ProverTypeRiscZero:
		if s.Receipt == nil {
			return nil, ErrMissingReceipt
		}
		groth16, err := s.Receipt.Groth16()
		if err != nil {
			return nil, err
		}
		return RiscZeroPayload{
			Journal: []byte(s.Receipt.Journal.Bytes),
			Seal:    []byte(groth16.Seal),
		}, nil
	case ProverTypeSP1:
		if !rawPresent(s.SP1Proof) || !rawPresent(s.VerifyingKey) {
			return nil, ErrMissingSP1Proof
		}
		return SP1Payload{Proof: s.SP1Proof, VerifyingKey: s.VerifyingKey}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProverType, string(s.ProverType))
	}
}

func rawPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
