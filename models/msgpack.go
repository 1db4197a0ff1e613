package models

import (
	"encoding/base64"

	"github.com/rohanthewiz/serr"
	"github.com/vmihailenco/msgpack/v5"
)

// BodyEncodingHeader tells the hub that change values travel in
// value_encoded as base64(msgpack(string)) instead of plain JSON strings.
const (
	BodyEncodingHeader  = "X-Body-Encoding"
	BodyEncodingMsgPack = "msgpack"
)

// EncodeMsgPackValue encodes a value as Base64-encoded msgpack bytes.
//
// Encoding pipeline: string -> msgpack bytes -> Base64 string
// Empty input stays empty.
func EncodeMsgPackValue(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	msgpackBytes, err := msgpack.Marshal(value)
	if err != nil {
		return "", serr.Wrap(err, "failed to msgpack encode value")
	}

	// Standard encoding (not URL-safe) since this rides inside a JSON body
	return base64.StdEncoding.EncodeToString(msgpackBytes), nil
}

// DecodeMsgPackValue reverses EncodeMsgPackValue.
func DecodeMsgPackValue(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	msgpackBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", serr.Wrap(err, "failed to decode base64 value")
	}

	var value string
	if err := msgpack.Unmarshal(msgpackBytes, &value); err != nil {
		return "", serr.Wrap(err, "failed to unmarshal msgpack value")
	}
	return value, nil
}
