package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"proofplus-coordinator/internal/models"
)

// Program the guest program forwarded to the executor and the proving service
type Program struct {
	ELF        []byte
	Inputs     []byte
	ImageID    common.Hash
	ProverType models.ProverType
}

// LoadProgram reads the program binary and its inputs from disk
func LoadProgram(cfg ProverConfig) (*Program, error) {
	proverType, err := models.ParseProverType(cfg.ProverType)
	if err != nil {
		return nil, fmt.Errorf("prover.proverType: %w", err)
	}

	if cfg.ELFPath == "" {
		return nil, fmt.Errorf("prover.elfPath is required")
	}
	elf, err := os.ReadFile(cfg.ELFPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read program binary: %w", err)
	}

	var inputs []byte
	if cfg.InputsPath != "" {
		inputs, err = os.ReadFile(cfg.InputsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read program inputs: %w", err)
		}
	}

	var imageID common.Hash
	if cfg.ImageID != "" {
		raw, err := models.DecodeHex(strings.TrimSpace(cfg.ImageID))
		if err != nil || len(raw) != common.HashLength {
			return nil, fmt.Errorf("prover.imageId %q is not a 32-byte hex value", cfg.ImageID)
		}
		imageID = common.BytesToHash(raw)
	}

	return &Program{
		ELF:        elf,
		Inputs:     inputs,
		ImageID:    imageID,
		ProverType: proverType,
	}, nil
}
