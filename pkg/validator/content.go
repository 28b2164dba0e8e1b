package validator

import (
	"encoding/json"
	"fmt"
)

// ContentValidator checks the body of a 200 response for endpoints that
// report application-level failures inside a successful HTTP exchange.
type ContentValidator func(body []byte) error

// Extractor strips a transport framing wrapper from a response body before
// it is handed to a ContentValidator.
type Extractor func(body []byte) ([]byte, error)

// FrameExtractor returns an Extractor that removes a fixed-length prefix
// and suffix, the framing used by jsonp-style API responses.
func FrameExtractor(prefix, suffix int) Extractor {
	return func(body []byte) ([]byte, error) {
		if len(body) < prefix+suffix {
			return nil, fmt.Errorf("body too short for framing: %d bytes", len(body))
		}
		return body[prefix : len(body)-suffix], nil
	}
}

// Framed wraps a ContentValidator so the body is unframed first.
func Framed(extract Extractor, inner ContentValidator) ContentValidator {
	return func(body []byte) error {
		unframed, err := extract(body)
		if err != nil {
			return err
		}
		return inner(unframed)
	}
}

type codeResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSONCode accepts bodies that are a JSON document with a zero "code"
// field, the convention of APIs that tunnel errors through 200 responses.
func JSONCode(body []byte) error {
	var resp codeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("malformed response body: %v", err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("api error code %d: %s", resp.Code, resp.Message)
	}
	return nil
}
