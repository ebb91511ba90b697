// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rpcproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnknownKind is returned by decode when the leading tag byte does
// not match any known Command variant.
var ErrUnknownKind = errors.New("rpcproto: unknown command kind")

// encode serializes a Command to its wire representation: one tag
// byte followed by the variant's fields in a fixed layout. There is no
// shared object-serialization layer here, so each variant packs its
// own fields explicitly, the same way the wire frames in this
// project's lineage always have.
func encode(c Command) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(c.Kind()))

	switch v := c.(type) {
	case UserRequest:
		writeInt64(&buf, v.ID)
		writeInt64(&buf, v.LastIoID)
		writeInt64(&buf, v.ClassLoaderOID)
		writeBytes(&buf, v.SerializedCallable)
	case UserResponse:
		writeInt64(&buf, v.ID)
		writeInt64(&buf, v.ResponseIoID)
		buf.WriteByte(boolByte(v.IsException))
		writeBytes(&buf, v.SerializedResult)
	case Cancel:
		writeInt64(&buf, v.ID)
	case PipeChunk:
		writeInt64(&buf, v.IoID)
		writeInt64(&buf, v.OID)
		writeBytes(&buf, v.Payload)
	case PipeAck:
		writeInt64(&buf, v.OID)
		writeInt64(&buf, v.Size)
	case PipeEOF:
		writeInt64(&buf, v.IoID)
		writeInt64(&buf, v.OID)
	case PipeFlush:
		writeInt64(&buf, v.IoID)
		writeInt64(&buf, v.OID)
	case PipeUnexport:
		writeInt64(&buf, v.IoID)
		writeInt64(&buf, v.OID)
	case PipeNotifyDeadWriter:
		writeInt64(&buf, v.OID)
		writeString(&buf, v.Cause)
	default:
		return nil, fmt.Errorf("rpcproto: encode: unhandled command type %T", c)
	}

	return buf.Bytes(), nil
}

// decode parses a Command from its wire representation, as produced
// by encode.
func decode(b []byte) (Command, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("rpcproto: decode: empty frame")
	}
	r := bytes.NewReader(b[1:])
	switch Kind(b[0]) {
	case KindUserRequest:
		id, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		lastIoID, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		classLoaderOID, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		payload, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return UserRequest{ID: id, LastIoID: lastIoID, ClassLoaderOID: classLoaderOID, SerializedCallable: payload}, nil

	case KindUserResponse:
		id, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		responseIoID, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		isExceptionByte, err := readByte(r)
		if err != nil {
			return nil, err
		}
		result, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return UserResponse{ID: id, ResponseIoID: responseIoID, IsException: isExceptionByte != 0, SerializedResult: result}, nil

	case KindCancel:
		id, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		return Cancel{ID: id}, nil

	case KindPipeChunk:
		ioID, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		oid, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		payload, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return PipeChunk{IoID: ioID, OID: oid, Payload: payload}, nil

	case KindPipeAck:
		oid, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		size, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		return PipeAck{OID: oid, Size: size}, nil

	case KindPipeEOF:
		ioID, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		oid, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		return PipeEOF{IoID: ioID, OID: oid}, nil

	case KindPipeFlush:
		ioID, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		oid, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		return PipeFlush{IoID: ioID, OID: oid}, nil

	case KindPipeUnexport:
		ioID, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		oid, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		return PipeUnexport{IoID: ioID, OID: oid}, nil

	case KindPipeNotifyDeadWriter:
		oid, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		cause, err := readString(r)
		if err != nil {
			return nil, err
		}
		return PipeNotifyDeadWriter{OID: oid, Cause: cause}, nil

	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownKind, b[0])
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("rpcproto: reading int64: %w", err)
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readByte(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("rpcproto: reading byte: %w", err)
	}
	return b, nil
}

func writeBytes(buf *bytes.Buffer, p []byte) {
	var lenB [4]byte
	binary.BigEndian.PutUint32(lenB[:], uint32(len(p)))
	buf.Write(lenB[:])
	buf.Write(p)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var lenB [4]byte
	if _, err := io.ReadFull(r, lenB[:]); err != nil {
		return nil, fmt.Errorf("rpcproto: reading payload length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenB[:])
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, fmt.Errorf("rpcproto: reading payload: %w", err)
	}
	return p, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
