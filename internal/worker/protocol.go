package worker

import (
	"encoding/json"
	"fmt"

	"abilico-inference/pkg/entity"
	"abilico-inference/pkg/postprocess"
	"abilico-inference/pkg/store"
)

// Topics of the in-process bus between orchestrator and worker.
const (
	TopicRequests  = "inference.requests"
	TopicResponses = "inference.responses"
)

// Request types.
const (
	TypeWarmup           = "warmup"
	TypeInit             = "init"
	TypePredict          = "predict"
	TypePredictBatch     = "predictBatch"
	TypeIsReady          = "isReady"
	TypeAvailableModels  = "getAvailableModels"
	TypeClearPredictions = "clearPredictionCache"
	TypeClearModels      = "clearModelCache"
	TypeModelCacheStats  = "getModelCacheStats"
)

// Response types.
const (
	TypeAck   = "ack"
	TypeError = "error"
)

// ProtocolError reports an unknown request type or an orphan response. It is
// logged and answered (or dropped), never fatal.
type ProtocolError struct {
	Type string
	ID   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: unknown message type %q (id %s)", e.Type, e.ID)
}

// Request is the envelope every inbound worker message uses. ID is the
// caller-generated correlation id echoed on the response.
type Request struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PredictData is the payload of a predict request.
type PredictData struct {
	Entity entity.Entity `json:"entity"`
}

// PredictBatchData is the payload of a predictBatch request.
type PredictBatchData struct {
	Entities []entity.Entity `json:"entities"`
}

// CacheStats summarizes the artifact store for diagnostics.
type CacheStats struct {
	Models      []store.ModelStat `json:"models"`
	TotalSizeMB float64           `json:"totalSizeMB"`
	Count       int               `json:"count"`
}

// Response is the envelope every outbound worker message uses. Exactly the
// fields relevant to the response type are set.
type Response struct {
	Type     string                       `json:"type"`
	ID       string                       `json:"id"`
	Success  *bool                        `json:"success,omitempty"`
	Ready    *bool                        `json:"ready,omitempty"`
	Models   []string                     `json:"models,omitempty"`
	Entity   *postprocess.EnrichedEntity  `json:"entity,omitempty"`
	Entities []postprocess.EnrichedEntity `json:"entities,omitempty"`
	Stats    *CacheStats                  `json:"stats,omitempty"`
	Message  string                       `json:"message,omitempty"`
}

func resultType(requestType string) string { return requestType + "Result" }

func boolPtr(b bool) *bool { return &b }

func errorResponse(id, message string) *Response {
	return &Response{Type: TypeError, ID: id, Message: message}
}
