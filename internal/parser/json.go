package parser

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-data/internal/apperr"
)

// DecodeJSONObject decodes a single JSON object from an upload buffer.
func DecodeJSONObject[T any](data []byte) (*T, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyFile, "json document is empty")
	}
	var obj T
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&obj); err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Validation(apperr.CodeValidation, "invalid json: %v", eris.Wrap(err, "json: decode object"))
	}
	return &obj, nil
}
