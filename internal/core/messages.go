package core

import (
	"fmt"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// MessageType identifies an object-header message.
type MessageType uint16

// Object-header message types handled by the dispatch table.
const (
	MsgNil              MessageType = 0x00
	MsgDataspace        MessageType = 0x01
	MsgLinkInfo         MessageType = 0x02
	MsgDatatype         MessageType = 0x03
	MsgFillValueOld     MessageType = 0x04
	MsgFillValue        MessageType = 0x05
	MsgLink             MessageType = 0x06
	MsgDataLayout       MessageType = 0x08
	MsgGroupInfo        MessageType = 0x0A
	MsgFilterPipeline   MessageType = 0x0B
	MsgAttribute        MessageType = 0x0C
	MsgObjectComment    MessageType = 0x0D
	MsgModificationTime MessageType = 0x0E
	MsgContinuation     MessageType = 0x10
	MsgSymbolTable      MessageType = 0x11
	MsgAttributeInfo    MessageType = 0x15
	MsgRefCount         MessageType = 0x16
)

// MsgFlagFailOnUnknown is the message-flags bit that forbids skipping an
// unknown message type.
const MsgFlagFailOnUnknown uint8 = 0x08

// HeaderMessage is one typed entry of an object header's message list.
// Raw always holds the on-disk body bytes; Body holds the decoded form for
// known types and is nil for unknown types (which are preserved and
// re-emitted byte-exact).
type HeaderMessage struct {
	Type  MessageType
	Flags uint8
	Raw   []byte
	Body  any
}

// messageCodec is the (parse, encode) pair registered per message type.
// Sizes fall out of encode; messages are padded to the 8-byte boundary by
// the header writer, not the codec.
type messageCodec struct {
	parse  func(data []byte, sb *Superblock) (any, error)
	encode func(body any, sb *Superblock) ([]byte, error)
}

// messageCodecs is the static dispatch table from message type to codec.
var messageCodecs map[MessageType]messageCodec

func init() {
	messageCodecs = map[MessageType]messageCodec{
		MsgNil: {
			parse:  func(data []byte, _ *Superblock) (any, error) { return &NilMessage{Size: len(data)}, nil },
			encode: encodeNil,
		},
		MsgDataspace: {
			parse: func(data []byte, _ *Superblock) (any, error) {
				ds, err := ParseDataspaceMessage(data)
				return ds, err
			},
			encode: encodeDataspaceBody,
		},
		MsgLinkInfo: {
			parse: parseLinkInfo,
		},
		MsgDatatype: {
			parse: func(data []byte, _ *Superblock) (any, error) {
				dt, _, err := ParseDatatype(data)
				return dt, err
			},
			encode: encodeDatatypeBody,
		},
		MsgFillValueOld: {
			parse:  parseFillValueOld,
			encode: encodeFillValueOld,
		},
		MsgFillValue: {
			parse:  parseFillValue,
			encode: encodeFillValue,
		},
		MsgLink: {
			parse: parseLinkMessage,
		},
		MsgDataLayout: {
			parse: func(data []byte, sb *Superblock) (any, error) {
				layout, err := ParseDataLayoutMessage(data, sb)
				return layout, err
			},
			encode: encodeDataLayoutBody,
		},
		MsgGroupInfo: {
			parse: parseGroupInfo,
		},
		MsgFilterPipeline: {
			parse: func(data []byte, _ *Superblock) (any, error) {
				pipeline, err := ParseFilterPipelineMessage(data)
				return pipeline, err
			},
		},
		MsgAttribute: {
			parse: func(data []byte, sb *Superblock) (any, error) {
				attr, err := ParseAttributeMessage(data, sb)
				return attr, err
			},
			encode: encodeAttributeBody,
		},
		MsgObjectComment: {
			parse: parseObjectComment,
		},
		MsgModificationTime: {
			parse:  parseModificationTime,
			encode: encodeModificationTime,
		},
		MsgContinuation: {
			parse:  parseContinuation,
			encode: encodeContinuation,
		},
		MsgSymbolTable: {
			parse:  parseSymbolTableMsg,
			encode: encodeSymbolTableMsg,
		},
		MsgAttributeInfo: {
			parse: parseAttributeInfo,
		},
		MsgRefCount: {
			parse:  parseRefCount,
			encode: encodeRefCount,
		},
	}
}

// DecodeMessageBody runs the dispatch table over one message's raw bytes.
// Unknown types return (nil, nil) when the fail-on-unknown flag is clear.
func DecodeMessageBody(msgType MessageType, flags uint8, data []byte, sb *Superblock) (any, error) {
	codec, ok := messageCodecs[msgType]
	if !ok || codec.parse == nil {
		if flags&MsgFlagFailOnUnknown != 0 {
			return nil, fmt.Errorf("%w: message type %#04x", utils.ErrUnknownRequiredMessage, uint16(msgType))
		}
		return nil, nil
	}
	body, err := codec.parse(data, sb)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("message type %#04x parse failed", uint16(msgType)), err)
	}
	return body, nil
}

// EncodeMessageBody serializes a message for writing. Messages carrying
// only raw bytes (unknown types preserved from a read) are re-emitted
// verbatim.
func EncodeMessageBody(msg *HeaderMessage, sb *Superblock) ([]byte, error) {
	if msg.Body == nil {
		if msg.Raw == nil {
			return nil, fmt.Errorf("message type %#04x has neither body nor raw bytes", uint16(msg.Type))
		}
		return msg.Raw, nil
	}

	codec, ok := messageCodecs[msg.Type]
	if !ok || codec.encode == nil {
		if msg.Raw != nil {
			return msg.Raw, nil
		}
		return nil, fmt.Errorf("message type %#04x is not writable", uint16(msg.Type))
	}
	return codec.encode(msg.Body, sb)
}

// NilMessage pads an object header; its body is Size zero bytes.
type NilMessage struct {
	Size int
}

func encodeNil(body any, _ *Superblock) ([]byte, error) {
	m, ok := body.(*NilMessage)
	if !ok {
		return nil, fmt.Errorf("nil message body has type %T", body)
	}
	return make([]byte, m.Size), nil
}

// ContinuationMessage names a contiguous region whose bytes extend the
// message list. Continuations form a linear chain.
type ContinuationMessage struct {
	Address uint64
	Length  uint64
}

func parseContinuation(data []byte, sb *Superblock) (any, error) {
	need := int(sb.OffsetSize) + int(sb.LengthSize)
	if len(data) < need {
		return nil, fmt.Errorf("%w: continuation message needs %d bytes", utils.ErrTruncatedRead, need)
	}
	return &ContinuationMessage{
		Address: sb.ReadOffset(data),
		Length:  sb.ReadLength(data[sb.OffsetSize:]),
	}, nil
}

func encodeContinuation(body any, sb *Superblock) ([]byte, error) {
	m, ok := body.(*ContinuationMessage)
	if !ok {
		return nil, fmt.Errorf("continuation body has type %T", body)
	}
	buf := make([]byte, int(sb.OffsetSize)+int(sb.LengthSize))
	sb.WriteOffset(buf, m.Address)
	sb.WriteLength(buf[sb.OffsetSize:], m.Length)
	return buf, nil
}

// SymbolTableMessage marks an object header as an old-style group and
// names the group's B-tree root and local heap.
type SymbolTableMessage struct {
	BTreeAddress uint64
	HeapAddress  uint64
}

func parseSymbolTableMsg(data []byte, sb *Superblock) (any, error) {
	need := 2 * int(sb.OffsetSize)
	if len(data) < need {
		return nil, fmt.Errorf("%w: symbol table message needs %d bytes", utils.ErrTruncatedRead, need)
	}
	return &SymbolTableMessage{
		BTreeAddress: sb.ReadOffset(data),
		HeapAddress:  sb.ReadOffset(data[sb.OffsetSize:]),
	}, nil
}

func encodeSymbolTableMsg(body any, sb *Superblock) ([]byte, error) {
	m, ok := body.(*SymbolTableMessage)
	if !ok {
		return nil, fmt.Errorf("symbol table body has type %T", body)
	}
	buf := make([]byte, 2*int(sb.OffsetSize))
	sb.WriteOffset(buf, m.BTreeAddress)
	sb.WriteOffset(buf[sb.OffsetSize:], m.HeapAddress)
	return buf, nil
}

// ModificationTimeMessage records the object's last change as seconds
// since the Unix epoch (message version 1).
type ModificationTimeMessage struct {
	Seconds uint32
}

func parseModificationTime(data []byte, sb *Superblock) (any, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: modification time message needs 8 bytes", utils.ErrTruncatedRead)
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("%w: modification time version %d", utils.ErrUnsupportedVersion, data[0])
	}
	return &ModificationTimeMessage{Seconds: sb.Endianness.Uint32(data[4:8])}, nil
}

func encodeModificationTime(body any, sb *Superblock) ([]byte, error) {
	m, ok := body.(*ModificationTimeMessage)
	if !ok {
		return nil, fmt.Errorf("modification time body has type %T", body)
	}
	buf := make([]byte, 8)
	buf[0] = 1
	sb.Endianness.PutUint32(buf[4:8], m.Seconds)
	return buf, nil
}

// RefCountMessage carries the object's hard-link reference count
// (message version 0).
type RefCountMessage struct {
	Count uint32
}

func parseRefCount(data []byte, sb *Superblock) (any, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: reference count message needs 5 bytes", utils.ErrTruncatedRead)
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("%w: reference count version %d", utils.ErrUnsupportedVersion, data[0])
	}
	return &RefCountMessage{Count: sb.Endianness.Uint32(data[1:5])}, nil
}

func encodeRefCount(body any, sb *Superblock) ([]byte, error) {
	m, ok := body.(*RefCountMessage)
	if !ok {
		return nil, fmt.Errorf("reference count body has type %T", body)
	}
	buf := make([]byte, 5)
	sb.Endianness.PutUint32(buf[1:5], m.Count)
	return buf, nil
}

// FillValueMessage is the modern (type 0x05) fill value descriptor.
type FillValueMessage struct {
	Version        uint8
	SpaceAllocTime uint8
	WriteTime      uint8
	Defined        bool
	Value          []byte
}

func parseFillValue(data []byte, sb *Superblock) (any, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: fill value message needs 4 bytes", utils.ErrTruncatedRead)
	}
	m := &FillValueMessage{
		Version:        data[0],
		SpaceAllocTime: data[1],
		WriteTime:      data[2],
		Defined:        data[3] != 0,
	}
	if m.Version != 1 && m.Version != 2 {
		return nil, fmt.Errorf("%w: fill value version %d", utils.ErrUnsupportedVersion, m.Version)
	}
	// Version 1 always carries a size; version 2 only when defined.
	if m.Version == 1 || m.Defined {
		if len(data) < 8 {
			return nil, fmt.Errorf("%w: fill value size field missing", utils.ErrTruncatedRead)
		}
		size := sb.Endianness.Uint32(data[4:8])
		if len(data) < 8+int(size) {
			return nil, fmt.Errorf("%w: fill value payload truncated", utils.ErrTruncatedRead)
		}
		m.Value = append([]byte(nil), data[8:8+size]...)
	}
	return m, nil
}

func encodeFillValue(body any, sb *Superblock) ([]byte, error) {
	m, ok := body.(*FillValueMessage)
	if !ok {
		return nil, fmt.Errorf("fill value body has type %T", body)
	}
	version := m.Version
	if version == 0 {
		version = 2
	}
	size := 4
	if version == 1 || m.Defined {
		size = 8 + len(m.Value)
	}
	buf := make([]byte, size)
	buf[0] = version
	buf[1] = m.SpaceAllocTime
	buf[2] = m.WriteTime
	if m.Defined {
		buf[3] = 1
	}
	if size > 4 {
		sb.Endianness.PutUint32(buf[4:8], uint32(len(m.Value))) //nolint:gosec // fill values are small
		copy(buf[8:], m.Value)
	}
	return buf, nil
}

// FillValueOldMessage is the legacy (type 0x04) fill value form: a bare
// size-prefixed byte run.
type FillValueOldMessage struct {
	Value []byte
}

func parseFillValueOld(data []byte, sb *Superblock) (any, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: legacy fill value needs 4 bytes", utils.ErrTruncatedRead)
	}
	size := sb.Endianness.Uint32(data[0:4])
	if len(data) < 4+int(size) {
		return nil, fmt.Errorf("%w: legacy fill value payload truncated", utils.ErrTruncatedRead)
	}
	return &FillValueOldMessage{Value: append([]byte(nil), data[4:4+size]...)}, nil
}

func encodeFillValueOld(body any, sb *Superblock) ([]byte, error) {
	m, ok := body.(*FillValueOldMessage)
	if !ok {
		return nil, fmt.Errorf("legacy fill value body has type %T", body)
	}
	buf := make([]byte, 4+len(m.Value))
	sb.Endianness.PutUint32(buf[0:4], uint32(len(m.Value))) //nolint:gosec // fill values are small
	copy(buf[4:], m.Value)
	return buf, nil
}

// ObjectCommentMessage holds the object's comment string (read-only).
type ObjectCommentMessage struct {
	Comment string
}

func parseObjectComment(data []byte, _ *Superblock) (any, error) {
	end := 0
	for end < len(data) && data[end] != 0 {
		end++
	}
	return &ObjectCommentMessage{Comment: string(data[:end])}, nil
}

// GroupInfoMessage carries new-style group storage hints (read-only).
type GroupInfoMessage struct {
	Version         uint8
	Flags           uint8
	MaxCompactLinks uint16
	MinDenseLinks   uint16
	EstNumEntries   uint16
	EstLinkNameLen  uint16
}

func parseGroupInfo(data []byte, sb *Superblock) (any, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: group info message needs 2 bytes", utils.ErrTruncatedRead)
	}
	m := &GroupInfoMessage{Version: data[0], Flags: data[1]}
	if m.Version != 0 {
		return nil, fmt.Errorf("%w: group info version %d", utils.ErrUnsupportedVersion, m.Version)
	}
	pos := 2
	if m.Flags&0x01 != 0 {
		if len(data) < pos+4 {
			return nil, fmt.Errorf("%w: group info phase-change fields truncated", utils.ErrTruncatedRead)
		}
		m.MaxCompactLinks = sb.Endianness.Uint16(data[pos:])
		m.MinDenseLinks = sb.Endianness.Uint16(data[pos+2:])
		pos += 4
	}
	if m.Flags&0x02 != 0 {
		if len(data) < pos+4 {
			return nil, fmt.Errorf("%w: group info estimate fields truncated", utils.ErrTruncatedRead)
		}
		m.EstNumEntries = sb.Endianness.Uint16(data[pos:])
		m.EstLinkNameLen = sb.Endianness.Uint16(data[pos+2:])
	}
	return m, nil
}

// LinkInfoMessage points a new-style group at its fractal heap and v2
// B-tree name index (read-only).
type LinkInfoMessage struct {
	Version              uint8
	Flags                uint8
	MaxCreationIndex     uint64
	FractalHeapAddress   uint64
	NameIndexBTree       uint64
	CreationOrderBTree   uint64
	TracksCreationOrder  bool
	IndexesCreationOrder bool
}

func parseLinkInfo(data []byte, sb *Superblock) (any, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: link info message needs 2 bytes", utils.ErrTruncatedRead)
	}
	m := &LinkInfoMessage{Version: data[0], Flags: data[1]}
	if m.Version != 0 {
		return nil, fmt.Errorf("%w: link info version %d", utils.ErrUnsupportedVersion, m.Version)
	}
	m.TracksCreationOrder = m.Flags&0x01 != 0
	m.IndexesCreationOrder = m.Flags&0x02 != 0

	pos := 2
	if m.TracksCreationOrder {
		if len(data) < pos+8 {
			return nil, fmt.Errorf("%w: link info creation index truncated", utils.ErrTruncatedRead)
		}
		m.MaxCreationIndex = sb.Endianness.Uint64(data[pos:])
		pos += 8
	}

	o := int(sb.OffsetSize)
	need := pos + 2*o
	if m.IndexesCreationOrder {
		need += o
	}
	if len(data) < need {
		return nil, fmt.Errorf("%w: link info addresses truncated", utils.ErrTruncatedRead)
	}
	m.FractalHeapAddress = sb.ReadOffset(data[pos:])
	pos += o
	m.NameIndexBTree = sb.ReadOffset(data[pos:])
	pos += o
	if m.IndexesCreationOrder {
		m.CreationOrderBTree = sb.ReadOffset(data[pos:])
	}
	return m, nil
}

// AttributeInfoMessage points at dense attribute storage (read-only).
type AttributeInfoMessage struct {
	Version            uint8
	Flags              uint8
	MaxCreationIndex   uint16
	FractalHeapAddress uint64
	NameBTreeAddress   uint64
	OrderBTreeAddress  uint64
}

func parseAttributeInfo(data []byte, sb *Superblock) (any, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: attribute info message needs 2 bytes", utils.ErrTruncatedRead)
	}
	m := &AttributeInfoMessage{Version: data[0], Flags: data[1]}
	if m.Version != 0 {
		return nil, fmt.Errorf("%w: attribute info version %d", utils.ErrUnsupportedVersion, m.Version)
	}
	pos := 2
	if m.Flags&0x01 != 0 {
		if len(data) < pos+2 {
			return nil, fmt.Errorf("%w: attribute info creation index truncated", utils.ErrTruncatedRead)
		}
		m.MaxCreationIndex = sb.Endianness.Uint16(data[pos:])
		pos += 2
	}
	o := int(sb.OffsetSize)
	need := pos + 2*o
	if m.Flags&0x02 != 0 {
		need += o
	}
	if len(data) < need {
		return nil, fmt.Errorf("%w: attribute info addresses truncated", utils.ErrTruncatedRead)
	}
	m.FractalHeapAddress = sb.ReadOffset(data[pos:])
	pos += o
	m.NameBTreeAddress = sb.ReadOffset(data[pos:])
	pos += o
	if m.Flags&0x02 != 0 {
		m.OrderBTreeAddress = sb.ReadOffset(data[pos:])
	}
	return m, nil
}

// LinkMessage is the per-link record of new-style groups; the same
// encoding appears inline in headers and as fractal-heap objects
// (read-only).
type LinkMessage struct {
	Version       uint8
	Type          uint8 // 0 = hard, 1 = soft, 64+ = user-defined
	Name          string
	CreationOrder uint64
	ObjectAddress uint64 // hard links
	SoftTarget    string // soft links
}

func parseLinkMessage(data []byte, sb *Superblock) (any, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: link message needs 3 bytes", utils.ErrTruncatedRead)
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("%w: link message version %d", utils.ErrUnsupportedVersion, data[0])
	}
	m := &LinkMessage{Version: data[0]}
	flags := data[1]
	pos := 2

	lengthSize := 1 << (flags & 0x03)
	if flags&0x08 != 0 {
		m.Type = data[pos]
		pos++
	}
	if flags&0x04 != 0 {
		if len(data) < pos+8 {
			return nil, fmt.Errorf("%w: link creation order truncated", utils.ErrTruncatedRead)
		}
		m.CreationOrder = sb.Endianness.Uint64(data[pos:])
		pos += 8
	}
	if flags&0x10 != 0 {
		pos++ // charset, ASCII and UTF-8 both decode as Go strings
	}

	if len(data) < pos+lengthSize {
		return nil, fmt.Errorf("%w: link name length truncated", utils.ErrTruncatedRead)
	}
	nameLen := utils.ReadUint(data[pos:], lengthSize, sb.Endianness)
	pos += lengthSize
	if uint64(len(data)) < uint64(pos)+nameLen {
		return nil, fmt.Errorf("%w: link name truncated", utils.ErrTruncatedRead)
	}
	m.Name = string(data[pos : uint64(pos)+nameLen])
	pos += int(nameLen)

	switch m.Type {
	case 0: // hard
		if len(data) < pos+int(sb.OffsetSize) {
			return nil, fmt.Errorf("%w: hard link address truncated", utils.ErrTruncatedRead)
		}
		m.ObjectAddress = sb.ReadOffset(data[pos:])
	case 1: // soft
		if len(data) < pos+2 {
			return nil, fmt.Errorf("%w: soft link target truncated", utils.ErrTruncatedRead)
		}
		tlen := int(sb.Endianness.Uint16(data[pos:]))
		pos += 2
		if len(data) < pos+tlen {
			return nil, fmt.Errorf("%w: soft link target truncated", utils.ErrTruncatedRead)
		}
		m.SoftTarget = string(data[pos : pos+tlen])
	}
	return m, nil
}
