package geolib

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/qri-io/jsonschema"
)

const handlePostMaxBodySize = 1 << 20

var handlePostRequestJSONSchema = func() *jsonschema.Schema {
	data := `{
        "type": "object",
        "required": [
            "ips"
        ],
        "additionalProperties": false,
        "properties": {
            "ips": {
                "type": "array",
                "minItems": 1,
                "items": {
                    "type": "string"
                }
            }
        }
    }`

	rv := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(data), rv); err != nil {
		panic(err)
	}

	return rv
}()

type handlePostRequest struct {
	IPs []string `json:"ips"`
}

type handlePostResponse struct {
	Results []BatchItem `json:"results"`
}

func (h httpHandler) handlePost(w http.ResponseWriter, req *http.Request) {
	if !strings.Contains(req.Header.Get("Content-Type"), "application/json") {
		h.sendError(w, nil, "Incorrect content type", http.StatusUnsupportedMediaType)

		return
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(req.Body, handlePostMaxBodySize))

	req.Body.Close()

	if err != nil {
		h.sendError(w, err, "Cannot read request body", http.StatusBadRequest)

		return
	}

	errs, err := handlePostRequestJSONSchema.ValidateBytes(req.Context(), bodyBytes)
	if err != nil {
		h.sendError(w, err, "Cannot validate body", http.StatusBadRequest)

		return
	}

	if len(errs) > 0 {
		h.sendError(w, errs[0], "Invalid request body", http.StatusBadRequest)

		return
	}

	parsedRequest := &handlePostRequest{}
	if err := json.Unmarshal(bodyBytes, parsedRequest); err != nil {
		h.sendError(w, err, "Cannot parse request JSON", http.StatusBadRequest)

		return
	}

	resolved, err := h.cache.LookupBatch(req.Context(), parsedRequest.IPs)
	if err != nil {
		h.sendError(w, err, "Cannot resolve given IPs", statusCodeFor(err))

		return
	}

	h.encodeJSON(w, http.StatusOK, handlePostResponse{
		Results: resolved,
	})
}
