package models

import "time"

// Browser model runtime kinds. The general-purpose runtime handles text
// generation; the embedder runtime handles lightweight similarity scoring.
const (
	RuntimeWebLLM   = "webllm"
	RuntimeEmbedder = "embedder"
)

// ExecutionTicket describes work the requester's own device must perform
// because the server has no network path to the in-browser model. It is
// single-use and expires unredeemed; the server never retries it.
type ExecutionTicket struct {
	ID                string    `json:"ticket_id"`
	UserID            string    `json:"-"` // redemption is re-authenticated, not bearer
	CVVariantID       string    `json:"cv_variant_id"`
	RuntimeKind       string    `json:"model_runtime_kind"`
	Model             string    `json:"model_identifier"`
	Prompt            string    `json:"prompt"`
	HasJobDescription bool      `json:"-"`
	IssuedAt          time.Time `json:"issued_at"`
}

// SubmitDelegatedResultRequest carries the raw model output produced on
// the requester's device back to the server.
type SubmitDelegatedResultRequest struct {
	RawOutput string `json:"raw_output"`
}

// CapabilityReport is the client's self-reported device support info.
// Advisory only: it guides the UI, it never gates server logic.
type CapabilityReport struct {
	WebGPUAvailable    bool   `json:"webgpu_available"`
	StorageAvailableMB int64  `json:"storage_available_mb"`
	RuntimeKind        string `json:"runtime_kind,omitempty"`
}

// CapabilityResponse tells the client whether the in-browser provider is
// expected to work, and what to do if not.
type CapabilityResponse struct {
	Supported      bool   `json:"supported"`
	Reason         string `json:"reason,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}
