package bag

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/crypto/blake2b"
	"google.golang.org/protobuf/encoding/protowire"
)

// Persisted snapshot layout:
//
//	blake2b-256(payload) || payload
//
// payload is protobuf wire format for
//
//	message Snapshot { repeated Entry entries = 1; }
//	message Entry { bytes key = 1; bytes value = 2; }
//
// with entries sorted by key and value holding the JSON encoding of the
// stored value. Keys are raw bytes, so any Go string round-trips.

const digestSize = blake2b.Size256

const (
	fieldEntries    protowire.Number = 1
	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2
)

// encodeSnapshot encodes values. Entries whose value has no JSON form
// (NaN, channels, funcs) are left out and returned joined in skipped, so the
// rest of the bag keeps persisting.
func encodeSnapshot[T any](values map[string]T) (data []byte, skipped error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var payload, entry []byte
	var errs []error
	for _, key := range keys {
		raw, err := json.Marshal(values[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", key, err))
			continue
		}
		entry = entry[:0]
		entry = protowire.AppendTag(entry, fieldEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, fieldEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, raw)

		payload = protowire.AppendTag(payload, fieldEntries, protowire.BytesType)
		payload = protowire.AppendBytes(payload, entry)
	}

	sum := blake2b.Sum256(payload)
	data = make([]byte, 0, digestSize+len(payload))
	data = append(data, sum[:]...)
	return append(data, payload...), errors.Join(errs...)
}

// decodeSnapshot verifies a persisted snapshot and returns the JSON encoding
// of each stored value.
func decodeSnapshot(data []byte) (map[string]json.RawMessage, error) {
	if len(data) < digestSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptSnapshot, len(data))
	}
	digest, payload := data[:digestSize], data[digestSize:]
	if sum := blake2b.Sum256(payload); !bytes.Equal(sum[:], digest) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorruptSnapshot)
	}

	out := make(map[string]json.RawMessage)
	err := eachField(payload, func(num protowire.Number, b []byte) error {
		if num != fieldEntries {
			return nil
		}
		var key string
		var value []byte
		var hasKey bool
		err := eachField(b, func(num protowire.Number, b []byte) error {
			switch num {
			case fieldEntryKey:
				key, hasKey = string(b), true
			case fieldEntryValue:
				value = bytes.Clone(b)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !hasKey || !json.Valid(value) {
			return errors.New("malformed entry")
		}
		out[key] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return out, nil
}

// eachField calls fn for every length-delimited field in b and skips fields
// of other wire types.
func eachField(b []byte, fn func(protowire.Number, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, v); err != nil {
			return err
		}
	}
	return nil
}

// convertValues decodes stored JSON values into T.
func convertValues[T any](raw map[string]json.RawMessage) (map[string]T, error) {
	out := make(map[string]T, len(raw))
	for key, data := range raw {
		var typed T
		if err := json.Unmarshal(data, &typed); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = typed
	}
	return out, nil
}
