package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/models"
)

var ErrProverRejected = errors.New("proving service rejected the request")

const defaultProverTimeout = 600 * time.Second

// ProofRequest body POSTed to the proving service endpoint named in TaskRequested
type ProofRequest struct {
	ELF              models.ByteArray  `json:"elf"`
	Inputs           models.ByteArray  `json:"inputs"`
	ProverType       models.ProverType `json:"prover_type"`
	RequesterAddress string            `json:"requester_address"`
	TaskID           string            `json:"task_id"`
	ImageID          string            `json:"image_id"`
}

// NewProofRequest fills the hex identity fields the service expects
func NewProofRequest(elf, inputs []byte, proverType models.ProverType, requester common.Address, taskID, imageID common.Hash) *ProofRequest {
	return &ProofRequest{
		ELF:              elf,
		Inputs:           inputs,
		ProverType:       proverType,
		RequesterAddress: requester.Hex(),
		TaskID:           taskID.Hex(),
		ImageID:          imageID.Hex(),
	}
}

// ProverClient proving service client
type ProverClient struct {
	Client *http.Client
	logger *logrus.Logger
}

// NewProverClient creates a proving service client, zero timeout selects 10 minutes
func NewProverClient(timeout time.Duration, logger *logrus.Logger) *ProverClient {
	if timeout <= 0 {
		timeout = defaultProverTimeout
	}
	return &ProverClient{
		Client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// RequestProof posts the request to endpoint and decodes the returned proof
func (c *ProverClient) RequestProof(ctx context.Context, endpoint string, req *ProofRequest) (*models.ProofSubmission, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof request: %w", err)
	}

	requestID := uuid.NewString()
	logger := c.logger.WithFields(logrus.Fields{
		"task_id":     req.TaskID,
		"endpoint":    endpoint,
		"request_id":  requestID,
		"prover_type": req.ProverType,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to build proof request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	logger.Info("Sending proof request")
	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send proof request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read proof response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WithField("status", resp.StatusCode).Error("Proving service returned an error")
		return nil, fmt.Errorf("%w (status %d): %s", ErrProverRejected, resp.StatusCode, string(body))
	}

	var submission models.ProofSubmission
	if err := json.Unmarshal(body, &submission); err != nil {
		return nil, fmt.Errorf("failed to parse proof response: %w", err)
	}

	logger.WithField("elapsed", time.Since(started)).Info("Proof received")
	return &submission, nil
}
