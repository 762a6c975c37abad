package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("unexpected empty response body")
		}

		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	return respBody, nil
}

// Catalog RPC responses wrap every payload in an envelope with a numeric
// code. Non-zero codes for credential problems are listed here; everything
// else is treated as an unexpected response by callers.
const (
	CodeOK                = 0
	CodeCredentialExpired = 1000
	CodeCredentialInvalid = 2000
)

type envelope struct {
	Code int `json:"code"`
}

func IsCredentialExpiredResponse(b []byte) (bool, error) {
	var body envelope
	if err := json.Unmarshal(b, &body); nil != err {
		return false, fmt.Errorf("failed to decode response envelope: %v", err)
	}

	return body.Code == CodeCredentialExpired, nil
}

func IsCredentialInvalidResponse(b []byte) (bool, error) {
	var body envelope
	if err := json.Unmarshal(b, &body); nil != err {
		return false, fmt.Errorf("failed to decode response envelope: %v", err)
	}

	return body.Code == CodeCredentialInvalid, nil
}
