package pktsim

// packet.go holds the units the network transmits.  Only the length (in bits)
// of a unit matters to links; the fields of IPPacket and Payload matter to
// routers, end hosts, and transport protocols.

import (
	"fmt"
)

// lengths in bits (binary multiples) and times in seconds, for building scenarios
const (
	Bit  = 1
	Kb   = 1024 * Bit
	Mb   = 1024 * Kb
	Byte = 8 * Bit
	KB   = 1024 * Byte
	MB   = 1024 * KB

	Second = 1.0
	MS     = Second / 1000
	US     = MS / 1000
)

const (
	// IPHeaderBits is the simulated length of an IP header
	IPHeaderBits = 12 * 8

	// SeqFieldBits is the simulated length of a payload's sequence field
	SeqFieldBits = 32

	// DataPayloadBits is the payload size senders put in a data segment,
	// making a full data packet 12000 bits long
	DataPayloadBits = 11872

	// AckPayloadBits is the payload size ackers put in an acknowledgment
	AckPayloadBits = 500
)

// Serializable is anything that can be placed on a link
type Serializable interface {
	Length() int // length in bits
	Clone() Serializable
	String() string
}

// Payload is the transport-layer content of a packet: a segment id
// and the declared size of the data it stands for
type Payload struct {
	SegID int
	Size  int
}

// CreatePayload is a constructor
func CreatePayload(segID, size int) *Payload {
	return &Payload{SegID: segID, Size: size}
}

// Length includes the sequence field
func (pld *Payload) Length() int {
	return pld.Size + SeqFieldBits
}

// Clone returns a copy of the payload
func (pld *Payload) Clone() Serializable {
	return &Payload{SegID: pld.SegID, Size: pld.Size}
}

func (pld *Payload) String() string {
	return fmt.Sprintf("[P Seg=%d Size=%d]", pld.SegID, pld.Size)
}

// IPPacket carries a payload between two (host, port) addresses.  Hosts are named
// by string; the FIBs of routers are keyed by those names.
type IPPacket struct {
	Src     string
	SrcPort int
	Dst     string
	DstPort int
	Payload Serializable
}

// CreateIPPacket is a constructor
func CreateIPPacket(src string, srcPort int, dst string, dstPort int, payload Serializable) *IPPacket {
	return &IPPacket{Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort, Payload: payload}
}

// Length is the payload length plus the header
func (pkt *IPPacket) Length() int {
	return pkt.Payload.Length() + IPHeaderBits
}

// Clone copies the packet and its payload
func (pkt *IPPacket) Clone() Serializable {
	return &IPPacket{Src: pkt.Src, SrcPort: pkt.SrcPort, Dst: pkt.Dst, DstPort: pkt.DstPort,
		Payload: pkt.Payload.Clone()}
}

func (pkt *IPPacket) String() string {
	return fmt.Sprintf("IP{SRC=%s:%d,DST=%s:%d,PLD=%s}", pkt.Src, pkt.SrcPort, pkt.Dst, pkt.DstPort, pkt.Payload)
}

// SegID returns the segment id of the packet's payload, and false if the payload is not a *Payload
func (pkt *IPPacket) SegID() (int, bool) {
	pld, ok := pkt.Payload.(*Payload)
	if !ok {
		return 0, false
	}
	return pld.SegID, true
}

// segmentPacket builds a packet carrying segment segID in a payload of the given size
func segmentPacket(src string, srcPort int, dst string, dstPort int, segID, size int) *IPPacket {
	return CreateIPPacket(src, srcPort, dst, dstPort, CreatePayload(segID, size))
}
