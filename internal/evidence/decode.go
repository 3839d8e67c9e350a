package evidence

import (
	"encoding/base64"
	"encoding/json"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
)

func unmarshalJSON(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return apierrors.Wrap(apierrors.KindProtocolError, "decoding protocol result", err)
	}
	return nil
}

func decodeBase64Field(raw []byte, field string) ([]byte, error) {
	var payload map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apierrors.Wrap(apierrors.KindProtocolError, "decoding screenshot result", err)
	}
	data, err := base64.StdEncoding.DecodeString(payload[field])
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindProtocolError, "decoding base64 screenshot data", err)
	}
	return data, nil
}
