// Package grpcweb implements the small slice of the gRPC-Web wire protocol
// the account bootstrap flow needs: length-prefixed frame encoding, response
// frame walking with trailer extraction, and the base64-text body variant.
package grpcweb

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cjdem/grok2api/internal/constants"
)

// ErrCompressedFrame is returned when a response carries a compressed data
// frame; per-message compression is not negotiated by this client.
var ErrCompressedFrame = errors.New("grpc-web compressed frame is not supported")

const (
	flagCompressed = 0x01
	flagTrailer    = 0x80
)

// ParseResult holds the decoded pieces of one gRPC-Web response body.
type ParseResult struct {
	Messages    [][]byte
	Trailers    map[string]string
	GRPCStatus  *int
	GRPCMessage string
}

// EncodeFrame wraps a payload in an uncompressed gRPC-Web data frame:
// 0x00 || uint32be(len) || payload.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

// ParseResponse decodes a gRPC-Web response body. Headers are consulted for
// grpc-status/grpc-message when the trailer frame omits them; contentType
// selects the base64-text variant, which is otherwise sniffed from the body.
func ParseResponse(body []byte, headers http.Header, contentType string) (*ParseResult, error) {
	res := &ParseResult{Trailers: map[string]string{}}

	if strings.Contains(contentType, "grpc-web-text") || looksBase64Text(body) {
		if decoded, ok := decodeBase64Text(body); ok {
			body = decoded
		}
	}

	for len(body) >= 5 {
		flag := body[0]
		length := binary.BigEndian.Uint32(body[1:5])
		if uint64(5)+uint64(length) > uint64(len(body)) {
			break
		}
		payload := body[5 : 5+length]
		body = body[5+length:]

		if flag&flagTrailer != 0 {
			mergeTrailerBlock(res.Trailers, payload)
			continue
		}
		if flag&flagCompressed != 0 {
			return nil, ErrCompressedFrame
		}
		msg := make([]byte, len(payload))
		copy(msg, payload)
		res.Messages = append(res.Messages, msg)
	}

	// Some deployments deliver status via plain HTTP headers instead of a
	// trailer frame.
	if _, ok := res.Trailers["grpc-status"]; !ok && headers != nil {
		if v := headers.Get("grpc-status"); v != "" {
			res.Trailers["grpc-status"] = v
		}
	}
	if _, ok := res.Trailers["grpc-message"]; !ok && headers != nil {
		if v := headers.Get("grpc-message"); v != "" {
			res.Trailers["grpc-message"] = decodeGrpcMessage(v)
		}
	}

	if v, ok := res.Trailers["grpc-status"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			res.GRPCStatus = &n
		}
	}
	res.GRPCMessage = res.Trailers["grpc-message"]
	return res, nil
}

// looksBase64Text reports whether the leading bytes of a body consist solely
// of base64 alphabet characters (plus CR/LF), which is how grpc-web-text
// bodies arrive when the content type is absent or mislabeled.
func looksBase64Text(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	limit := len(body)
	if limit > constants.GrpcWebTextSniffLimit {
		limit = constants.GrpcWebTextSniffLimit
	}
	for _, b := range body[:limit] {
		switch {
		case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		case b == '+' || b == '/' || b == '=' || b == '\r' || b == '\n':
		default:
			return false
		}
	}
	return true
}

func decodeBase64Text(body []byte) ([]byte, bool) {
	compact := make([]byte, 0, len(body))
	for _, b := range body {
		if b == '\r' || b == '\n' {
			continue
		}
		compact = append(compact, b)
	}
	decoded, err := base64.StdEncoding.DecodeString(string(compact))
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func mergeTrailerBlock(dst map[string]string, block []byte) {
	text := strings.ReplaceAll(string(block), "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if key == "grpc-message" {
			value = decodeGrpcMessage(value)
		}
		dst[key] = value
	}
}

func decodeGrpcMessage(v string) string {
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}
