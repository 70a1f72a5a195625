package core

import (
	"fmt"
	"io"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// ContinuationAllocator reserves a contiguous, 8-byte-aligned region for
// overflow messages and returns its file offset.
type ContinuationAllocator func(size uint64) (uint64, error)

// messageSlot is one encoded message plus its padded on-disk footprint.
type messageSlot struct {
	msg  *HeaderMessage
	data []byte
	size uint64 // 8-byte header + data padded to the 8-byte boundary
}

// EncodedSize returns the byte count the header's current message list
// needs in a single fragment, prefix included.
func (oh *ObjectHeader) EncodedSize(sb *Superblock) (uint64, error) {
	slots, err := oh.encodeSlots(sb)
	if err != nil {
		return 0, err
	}
	total := uint64(objectHeaderPrefixSize)
	for _, s := range slots {
		total += s.size
	}
	return total, nil
}

// WriteTo lays the header into a slot of slotSize bytes at address.
//
// Messages are placed in list order. When they exceed the slot, a
// continuation region is allocated through allocCont, a continuation
// message pointing at it is emitted inside the initial region, and the
// overflow is placed in the continuation. Unused tail bytes of the initial
// region are covered by a NIL message. Writing closes the header: the
// continuation allocation is final and no further messages can be added.
func (oh *ObjectHeader) WriteTo(w io.WriterAt, address, slotSize uint64, allocCont ContinuationAllocator, sb *Superblock) error {
	if slotSize < objectHeaderPrefixSize+8 || slotSize%8 != 0 {
		return fmt.Errorf("invalid object header slot size: %d", slotSize)
	}

	slots, err := oh.encodeSlots(sb)
	if err != nil {
		return err
	}

	capacity := slotSize - objectHeaderPrefixSize

	var used uint64
	fits := 0
	for _, s := range slots {
		if used+s.size > capacity {
			break
		}
		used += s.size
		fits++
	}

	first := slots
	var overflow []messageSlot
	var contSlot *messageSlot

	if fits < len(slots) {
		if allocCont == nil {
			return fmt.Errorf("%w: %d messages exceed header slot and no continuation allocator",
				utils.ErrBufferOverflowOnWrite, len(slots)-fits)
		}

		// Reserve room for the continuation message itself, evicting
		// placed messages if needed.
		contSize := uint64(8) + utils.AlignUp8(uint64(sb.OffsetSize)+uint64(sb.LengthSize))
		for fits > 0 && used+contSize > capacity {
			fits--
			used -= slots[fits].size
		}
		if used+contSize > capacity {
			return fmt.Errorf("%w: header slot too small for a continuation message",
				utils.ErrBufferOverflowOnWrite)
		}

		overflow = slots[fits:]
		var overflowSize uint64
		for _, s := range overflow {
			overflowSize += s.size
		}

		contAddr, err := allocCont(overflowSize)
		if err != nil {
			return utils.WrapError("continuation allocation failed", err)
		}

		contMsg := &HeaderMessage{
			Type: MsgContinuation,
			Body: &ContinuationMessage{Address: contAddr, Length: overflowSize},
		}
		data, err := EncodeMessageBody(contMsg, sb)
		if err != nil {
			return err
		}
		contSlot = &messageSlot{msg: contMsg, data: data, size: 8 + utils.AlignUp8(uint64(len(data)))}
		used += contSlot.size

		first = append(append([]messageSlot(nil), slots[:fits]...), *contSlot)
	}

	// Cover the initial region's tail with a NIL message.
	numMessages := len(first) + len(overflow)
	if used < capacity {
		nilData := make([]byte, capacity-used-8)
		first = append(first, messageSlot{
			msg:  &HeaderMessage{Type: MsgNil, Body: &NilMessage{Size: len(nilData)}},
			data: nilData,
			size: capacity - used,
		})
		numMessages++
	}

	// Prefix: version, reserved, message count, reference count, header
	// size (first fragment only), padding.
	//nolint:gosec // G115: slot sizes are bounded by header allocations
	headerSize := uint32(capacity)
	prefix := make([]byte, objectHeaderPrefixSize)
	prefix[0] = 1
	sb.Endianness.PutUint16(prefix[2:4], uint16(numMessages)) //nolint:gosec // counts are small
	sb.Endianness.PutUint32(prefix[4:8], oh.RefCount)
	sb.Endianness.PutUint32(prefix[8:12], headerSize)

	frag := make([]byte, capacity)
	if err := layoutFragment(frag, first, sb); err != nil {
		return err
	}

	//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
	if _, err := w.WriteAt(prefix, int64(address)); err != nil {
		return utils.WrapError("object header prefix write failed", err)
	}
	//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
	if _, err := w.WriteAt(frag, int64(address)+objectHeaderPrefixSize); err != nil {
		return utils.WrapError("object header fragment write failed", err)
	}

	if len(overflow) > 0 {
		cont := contSlot.msg.Body.(*ContinuationMessage)
		buf := make([]byte, cont.Length)
		if err := layoutFragment(buf, overflow, sb); err != nil {
			return err
		}
		//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
		if _, err := w.WriteAt(buf, int64(cont.Address)); err != nil {
			return utils.WrapError("continuation fragment write failed", err)
		}
	}

	oh.Address = address
	oh.HeaderSize = headerSize
	oh.closed = true
	return nil
}

// encodeSlots runs the dispatch table over the message list.
func (oh *ObjectHeader) encodeSlots(sb *Superblock) ([]messageSlot, error) {
	slots := make([]messageSlot, 0, len(oh.Messages))
	for _, msg := range oh.Messages {
		data, err := EncodeMessageBody(msg, sb)
		if err != nil {
			return nil, err
		}
		slots = append(slots, messageSlot{
			msg:  msg,
			data: data,
			size: 8 + utils.AlignUp8(uint64(len(data))),
		})
	}
	return slots, nil
}

// layoutFragment serializes message slots into one contiguous region.
func layoutFragment(buf []byte, slots []messageSlot, sb *Superblock) error {
	pos := 0
	for _, s := range slots {
		if pos+int(s.size) > len(buf) {
			return fmt.Errorf("%w: fragment layout needs %d bytes, have %d",
				utils.ErrBufferOverflowOnWrite, pos+int(s.size), len(buf))
		}
		sb.Endianness.PutUint16(buf[pos:], uint16(s.msg.Type))
		// The size field counts the padded data region, as the C library
		// encodes it.
		sb.Endianness.PutUint16(buf[pos+2:], uint16(s.size-8)) //nolint:gosec // message sizes fit uint16
		buf[pos+4] = s.msg.Flags
		copy(buf[pos+8:], s.data)
		pos += int(s.size)
	}
	return nil
}
