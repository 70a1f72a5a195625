package core

import (
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// ObjectType classifies an object header by its messages.
type ObjectType uint8

// Object classifications.
const (
	ObjectTypeGroup ObjectType = iota
	ObjectTypeDataset
	ObjectTypeDatatype
	ObjectTypeUnknown
)

// ObjectHeader is the ordered typed message list describing one object.
//
// Version 1 prefix (16 bytes): version(1), reserved(1), message count(2),
// reference count(4), header size(4), padding(4). Each message: type(2),
// data size(2), flags(1), reserved(3), data padded to the 8-byte boundary.
// The prefix's header size covers only the first fragment; continuation
// fragments carry their own byte counts in the continuation messages that
// name them.
type ObjectHeader struct {
	Version  uint8
	RefCount uint32
	Messages []*HeaderMessage

	// HeaderSize is the first fragment's message-region byte count.
	HeaderSize uint32

	// Address is where the prefix was read from (zero for new headers).
	Address uint64

	closed bool
}

// objectHeaderPrefixSize is the version 1 fixed preamble length.
const objectHeaderPrefixSize = 16

// NewObjectHeader returns an empty, mutable version 1 header.
func NewObjectHeader() *ObjectHeader {
	return &ObjectHeader{Version: 1, RefCount: 1}
}

// AddMessage appends a typed message. Headers are mutable only until
// closed; once written, continuation allocation is final.
func (oh *ObjectHeader) AddMessage(msgType MessageType, body any) (*HeaderMessage, error) {
	if oh.closed {
		return nil, fmt.Errorf("%w: header already written", utils.ErrHandleClosed)
	}
	msg := &HeaderMessage{Type: msgType, Body: body}
	oh.Messages = append(oh.Messages, msg)
	return msg, nil
}

// FindMessage returns the first message of the given type, or nil.
func (oh *ObjectHeader) FindMessage(msgType MessageType) *HeaderMessage {
	for _, msg := range oh.Messages {
		if msg.Type == msgType {
			return msg
		}
	}
	return nil
}

// FindMessages returns all messages of the given type, in list order.
func (oh *ObjectHeader) FindMessages(msgType MessageType) []*HeaderMessage {
	var out []*HeaderMessage
	for _, msg := range oh.Messages {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

// Type classifies the object from its message set.
func (oh *ObjectHeader) Type() ObjectType {
	for _, msg := range oh.Messages {
		switch msg.Type {
		case MsgSymbolTable, MsgLinkInfo, MsgLink:
			return ObjectTypeGroup
		case MsgDataLayout:
			return ObjectTypeDataset
		}
	}
	if oh.FindMessage(MsgDatatype) != nil {
		if oh.FindMessage(MsgDataspace) != nil {
			return ObjectTypeDataset
		}
		return ObjectTypeDatatype
	}
	return ObjectTypeUnknown
}

// ReadObjectHeader reads a version 1 object header and follows its
// continuation chain.
func ReadObjectHeader(r io.ReaderAt, address uint64, sb *Superblock) (*ObjectHeader, error) {
	prefix := utils.GetBuffer(objectHeaderPrefixSize)
	defer utils.ReleaseBuffer(prefix)

	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(prefix, int64(address)); err != nil {
		return nil, utils.WrapError("object header prefix read failed", err)
	}

	version := prefix[0]
	if version != 1 {
		return nil, fmt.Errorf("%w: object header version %d", utils.ErrUnsupportedVersion, version)
	}

	numMessages := sb.Endianness.Uint16(prefix[2:4])
	refCount := sb.Endianness.Uint32(prefix[4:8])
	headerSize := sb.Endianness.Uint32(prefix[8:12])

	oh := &ObjectHeader{
		Version:    version,
		RefCount:   refCount,
		HeaderSize: headerSize,
		Address:    address,
		closed:     true,
	}

	// First fragment, then the linear continuation chain. Each fragment is
	// self-contained: aligned, typed messages filling its byte count.
	type fragment struct {
		addr uint64
		size uint64
	}
	pending := []fragment{{addr: address + objectHeaderPrefixSize, size: uint64(headerSize)}}

	for len(pending) > 0 {
		frag := pending[0]
		pending = pending[1:]

		msgs, err := readMessageFragment(r, frag.addr, frag.size, sb)
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			oh.Messages = append(oh.Messages, msg)
			if cont, ok := msg.Body.(*ContinuationMessage); ok {
				pending = append(pending, fragment{addr: cont.Address, size: cont.Length})
			}
		}
		if len(oh.Messages) > int(numMessages) {
			// Tolerate over-declared fragments, but stop following the
			// chain once more messages than the declared count are read.
			break
		}
	}

	return oh, nil
}

// readMessageFragment parses one contiguous message region.
func readMessageFragment(r io.ReaderAt, start, size uint64, sb *Superblock) ([]*HeaderMessage, error) {
	if size == 0 {
		return nil, nil
	}

	//nolint:gosec // G115: fragment sizes are bounded by header fields
	buf := make([]byte, int(size))
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	n, err := r.ReadAt(buf, int64(start))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, utils.WrapError("header fragment read failed", err)
	}
	if uint64(n) < size {
		return nil, fmt.Errorf("%w: header fragment needs %d bytes, got %d",
			utils.ErrTruncatedRead, size, n)
	}

	var messages []*HeaderMessage
	pos := 0
	for pos+8 <= len(buf) {
		msgType := MessageType(sb.Endianness.Uint16(buf[pos : pos+2]))
		msgSize := int(sb.Endianness.Uint16(buf[pos+2 : pos+4]))
		flags := buf[pos+4]
		pos += 8

		if pos+msgSize > len(buf) {
			return nil, fmt.Errorf("%w: message data runs past fragment end", utils.ErrTruncatedRead)
		}

		data := append([]byte(nil), buf[pos:pos+msgSize]...)
		body, err := DecodeMessageBody(msgType, flags, data, sb)
		if err != nil {
			return nil, err
		}

		messages = append(messages, &HeaderMessage{
			Type:  msgType,
			Flags: flags,
			Raw:   data,
			Body:  body,
		})

		pos += int(utils.AlignUp8(uint64(msgSize)))
	}

	return messages, nil
}
