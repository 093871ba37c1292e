package models

import (
	"encoding/json"
	"fmt"
)

// ProverType proof system used to compute a task
type ProverType string

const (
	ProverTypeRiscZero ProverType = "RiscZero"
	ProverTypeSP1      ProverType = "SP1"
)

// ParseProverType accepts the wire tag of a prover kind
func ParseProverType(s string) (ProverType, error) {
	p := ProverType(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProverType, s)
	}
	return p, nil
}

func (p ProverType) Valid() bool {
	return p == ProverTypeRiscZero || p == ProverTypeSP1
}

func (p ProverType) String() string {
	return string(p)
}

func (p *ProverType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("prover_type must be a string: %w", err)
	}
	parsed, err := ParseProverType(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
