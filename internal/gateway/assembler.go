package gateway

import (
	"github.com/tidwall/sjson"

	"github.com/llmshield/shield-gateway/internal/types"
)

// AttachMetadata grafts the shield metadata onto the raw upstream
// payload under the reserved key. The payload is never re-marshalled
// through a struct, so provider fields the gateway does not model
// survive byte for byte.
func AttachMetadata(raw []byte, meta types.ShieldMetadata) ([]byte, error) {
	return sjson.SetBytes(raw, types.MetadataKey, meta)
}
