package transport

import (
	"github.com/bytedance/sonic"

	"github.com/yoockh/yoorelay/internal/models"
)

// wire uses the std-compatible sonic config so []byte fields round-trip as
// base64 exactly like encoding/json.
var wire = sonic.ConfigStd

func EncodeInbound(m *models.InboundMessage) ([]byte, error) { return wire.Marshal(m) }

func DecodeInbound(b []byte) (*models.InboundMessage, error) {
	var m models.InboundMessage
	if err := wire.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func EncodeReply(r *models.OutboundReply) ([]byte, error) { return wire.Marshal(r) }

func DecodeReply(b []byte) (*models.OutboundReply, error) {
	var r models.OutboundReply
	if err := wire.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
