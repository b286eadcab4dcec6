package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"kinesisbox/awserrors"
)

const (
	jsonContentType = "application/x-amz-json-1.1"
	cborContentType = "application/x-amz-cbor-1.1"
)

func strictUnmarshal(r io.Reader, contentType string, target any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	switch contentType {
	case jsonContentType:
		decoder := json.NewDecoder(bytes.NewBuffer(data))
		decoder.DisallowUnknownFields()
		err := decoder.Decode(target)
		if err != nil {
			return fmt.Errorf("json unmarshal failed: %v", err)
		}
		err = decoder.Decode(target)
		if err != io.EOF {
			return errors.New("Unexpected more JSON?")
		}
	case cborContentType:
		decoder, err := cbor.DecOptions{
			ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		}.DecMode()
		if err != nil {
			return err
		}
		err = decoder.Unmarshal(data, target)
		if err != nil {
			return fmt.Errorf("%v, cbor unmarshal failed for %v", err, string(data))
		}
	default:
		return errors.New("Unknown contentType: " + contentType)
	}
	return nil
}

func writeResponse(w http.ResponseWriter, output any, awserr *awserrors.Error, contentType string) {
	if awserr != nil {
		// TODO: correct error handling
		w.WriteHeader(awserr.Code)
		output = awserr.Body
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if output == nil {
		return
	}

	marshalFunc := cbor.Marshal
	if contentType == jsonContentType {
		marshalFunc = json.Marshal
	}

	data, err := marshalFunc(output)
	if err != nil {
		panic(err)
	}
	w.Write(data)
}

type Registry = map[string]http.HandlerFunc

// RegionFromRequest extracts the region component of a SigV4 credential
// scope ("<date>/<region>/<service>/aws4_request") from the Authorization
// header. An explicit X-Amz-Region override header, when present, takes
// precedence over the credential scope, for callers (like the AWS CLI with
// --endpoint-url) that skip SigV4 entirely against a local endpoint. It
// returns "" when neither yields a region.
func RegionFromRequest(r *http.Request) string {
	if region := r.Header.Get("X-Amz-Region"); region != "" {
		return region
	}

	auth := r.Header.Get("Authorization")
	const marker = "Credential="
	idx := strings.Index(auth, marker)
	if idx < 0 {
		return ""
	}
	rest := auth[idx+len(marker):]
	if end := strings.IndexAny(rest, ", "); end >= 0 {
		rest = rest[:end]
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// RegisterRegional is Register's counterpart for handlers that need to know
// which region a request targets, resolved by RegionFromRequest: from the
// X-Amz-Region override header if present, otherwise from the caller's
// SigV4 credential scope.
func RegisterRegional[Input any, Output any](
	registry map[string]http.HandlerFunc,
	service string,
	method string,
	handler func(region string, input Input) (*Output, *awserrors.Error),
) {
	registry[service+"."+method] = func(w http.ResponseWriter, r *http.Request) {
		contentType := r.Header.Get("Content-Type")

		var input Input
		if err := strictUnmarshal(r.Body, contentType, &input); err != nil {
			panic(fmt.Errorf("%s: %v", method, err))
		}

		output, awserr := handler(RegionFromRequest(r), input)
		writeResponse(w, output, awserr, contentType)
	}
}

func Register[Input any, Output any](
	registry map[string]http.HandlerFunc,
	service string,
	method string,
	handler func(input Input) (*Output, *awserrors.Error),
) {
	registry[service+"."+method] = func(w http.ResponseWriter, r *http.Request) {

		contentType := r.Header.Get("Content-Type")

		var input Input
		err := strictUnmarshal(r.Body, contentType, &input)
		if err != nil {
			panic(fmt.Errorf("%s: %v", method, err))
		}

		output, awserr := handler(input)
		writeResponse(w, output, awserr, contentType)
	}
}
