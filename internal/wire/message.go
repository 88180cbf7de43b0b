package wire

import "fmt"

// Type identifies the variant of a Message.
type Type uint8

// String returns the string representation of Type
func (t Type) String() string {
	switch t {
	case TypeOpen:
		return "Open"
	case TypeSegmentData:
		return "SegmentData"
	case TypeApply:
		return "Apply"
	case TypeClose:
		return "Close"
	case TypeSegmentRequest:
		return "SegmentRequest"
	default:
		return fmt.Sprintf("Type(0x%02x)", uint8(t))
	}
}

// Message is a decoded transfer frame. Which body fields are meaningful
// depends on Type:
//
//	Open           FileSize
//	SegmentData    Offset, Payload
//	Apply          FileSize
//	Close          -
//	SegmentRequest Indices
//
// The wire does not tell a nil slice from an empty one: both encode to a
// zero length, and Decode returns nil for it.
type Message struct {
	Type        Type
	FileID      uint32
	FileVersion uint32

	FileSize uint32
	Offset   uint32
	Payload  []byte
	Indices  []uint32
}

func (m Message) String() string {
	switch m.Type {
	case TypeOpen, TypeApply:
		return fmt.Sprintf("%s{file=0x%08x v%d size=%d}", m.Type, m.FileID, m.FileVersion, m.FileSize)
	case TypeSegmentData:
		return fmt.Sprintf("%s{file=0x%08x v%d offset=%d len=%d}", m.Type, m.FileID, m.FileVersion, m.Offset, len(m.Payload))
	case TypeSegmentRequest:
		return fmt.Sprintf("%s{file=0x%08x v%d indices=%v}", m.Type, m.FileID, m.FileVersion, m.Indices)
	default:
		return fmt.Sprintf("%s{file=0x%08x v%d}", m.Type, m.FileID, m.FileVersion)
	}
}

// NewOpen builds the message a sender uses to start a transfer.
func NewOpen(fileID, fileVersion, fileSize uint32) Message {
	return Message{Type: TypeOpen, FileID: fileID, FileVersion: fileVersion, FileSize: fileSize}
}

// NewSegmentData builds a segment carrying payload at a byte offset.
func NewSegmentData(fileID, fileVersion, offset uint32, payload []byte) Message {
	return Message{Type: TypeSegmentData, FileID: fileID, FileVersion: fileVersion, Offset: offset, Payload: payload}
}

// NewSegmentRequest builds a retransmission request for the given indices.
func NewSegmentRequest(fileID, fileVersion uint32, indices []uint32) Message {
	return Message{Type: TypeSegmentRequest, FileID: fileID, FileVersion: fileVersion, Indices: indices}
}

// NewClose builds a transfer cancellation.
func NewClose(fileID, fileVersion uint32) Message {
	return Message{Type: TypeClose, FileID: fileID, FileVersion: fileVersion}
}

// NewApply builds the completion message for a fully received file.
func NewApply(fileID, fileVersion, fileSize uint32) Message {
	return Message{Type: TypeApply, FileID: fileID, FileVersion: fileVersion, FileSize: fileSize}
}
