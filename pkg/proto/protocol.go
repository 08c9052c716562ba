// Package proto implements the Dynamixel Protocol 2.0 packet engine over a
// local serial device. It is the production Transport behind pkg/dxl.
package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Instruction codes per the Protocol 2.0 specification.
const (
	instPing         byte = 0x01
	instRead         byte = 0x02
	instWrite        byte = 0x03
	instRegWrite     byte = 0x04
	instAction       byte = 0x05
	instFactoryReset byte = 0x06
	instReboot       byte = 0x08
	instStatus       byte = 0x55
	instSyncRead     byte = 0x82
	instSyncWrite    byte = 0x83
)

// Special id values.
const (
	BroadcastID = 0xFE
)

// Header: FF FF FD followed by a reserved zero byte.
var header = []byte{0xFF, 0xFF, 0xFD, 0x00}

// statusOverhead is the wire size of a status packet carrying no data:
// header(4) + id(1) + length(2) + instruction(1) + error(1) + crc(2).
const statusOverhead = 11

var (
	errShortPacket = errors.New("packet too short")
	errNoHeader    = errors.New("header not found")
)

// Packet is one Protocol 2.0 packet. Err is only meaningful for status
// packets.
type Packet struct {
	ID          byte
	Instruction byte
	Params      []byte
	Err         byte
}

// crcTable is the CRC-16 (poly 0x8005, MSB-first) table the devices use.
var crcTable [256]uint16

func init() {
	for i := range crcTable {
		crc := uint16(i) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

func updateCRC(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// Encode builds the wire form of an instruction packet:
// header(4) + id(1) + length(2) + instruction(1) + params + crc(2).
func Encode(pkt Packet) []byte {
	length := len(pkt.Params) + 3 // instruction + crc
	buf := make([]byte, 0, 7+length)
	buf = append(buf, header...)
	buf = append(buf, pkt.ID)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(length))
	buf = append(buf, pkt.Instruction)
	buf = append(buf, pkt.Params...)
	buf = binary.LittleEndian.AppendUint16(buf, updateCRC(0, buf))
	return buf
}

// Decode parses one packet out of data, skipping garbage before the header.
// It returns the packet and how many bytes of data were consumed.
func Decode(data []byte) (Packet, int, error) {
	if len(data) < statusOverhead {
		return Packet{}, 0, errShortPacket
	}

	start := -1
	for i := 0; i+len(header) <= len(data); i++ {
		if data[i] == header[0] && data[i+1] == header[1] && data[i+2] == header[2] && data[i+3] == header[3] {
			start = i
			break
		}
	}
	if start < 0 {
		return Packet{}, 0, errNoHeader
	}
	data = data[start:]
	if len(data) < statusOverhead {
		return Packet{}, 0, errShortPacket
	}

	length := int(binary.LittleEndian.Uint16(data[5:7]))
	total := 7 + length
	if length < 3 || len(data) < total {
		return Packet{}, 0, fmt.Errorf("incomplete packet: need %d bytes, have %d", total, len(data))
	}

	wantCRC := updateCRC(0, data[:total-2])
	gotCRC := binary.LittleEndian.Uint16(data[total-2 : total])
	if wantCRC != gotCRC {
		return Packet{}, 0, fmt.Errorf("crc mismatch: want 0x%04X, got 0x%04X", wantCRC, gotCRC)
	}

	pkt := Packet{
		ID:          data[4],
		Instruction: data[7],
	}
	if pkt.Instruction == instStatus {
		pkt.Err = data[8]
		if n := length - 4; n > 0 { // error + instruction + crc
			pkt.Params = append([]byte(nil), data[9:9+n]...)
		}
	} else if n := length - 3; n > 0 {
		pkt.Params = append([]byte(nil), data[8:8+n]...)
	}
	return pkt, start + total, nil
}

// decodeAll parses up to count packets from a buffer of concatenated status
// replies, resynchronizing on the next header after a corrupt one.
func decodeAll(data []byte, count int) []Packet {
	packets := make([]Packet, 0, count)
	offset := 0
	for len(packets) < count && offset < len(data) {
		pkt, consumed, err := Decode(data[offset:])
		if err != nil {
			break
		}
		packets = append(packets, pkt)
		offset += consumed
	}
	return packets
}

// Instruction packet builders.

func pingPacket(id byte) []byte {
	return Encode(Packet{ID: id, Instruction: instPing})
}

func readPacket(id byte, addr uint16, length uint16) []byte {
	params := make([]byte, 4)
	binary.LittleEndian.PutUint16(params[0:], addr)
	binary.LittleEndian.PutUint16(params[2:], length)
	return Encode(Packet{ID: id, Instruction: instRead, Params: params})
}

func writePacket(id byte, addr uint16, data []byte) []byte {
	params := make([]byte, 2+len(data))
	binary.LittleEndian.PutUint16(params[0:], addr)
	copy(params[2:], data)
	return Encode(Packet{ID: id, Instruction: instWrite, Params: params})
}

func syncWritePacket(addr uint16, width int, ids []byte, data map[byte][]byte) []byte {
	params := make([]byte, 0, 4+len(ids)*(1+width))
	params = binary.LittleEndian.AppendUint16(params, addr)
	params = binary.LittleEndian.AppendUint16(params, uint16(width))
	for _, id := range ids {
		params = append(params, id)
		params = append(params, data[id]...)
	}
	return Encode(Packet{ID: BroadcastID, Instruction: instSyncWrite, Params: params})
}

func syncReadPacket(addr uint16, width int, ids []byte) []byte {
	params := make([]byte, 0, 4+len(ids))
	params = binary.LittleEndian.AppendUint16(params, addr)
	params = binary.LittleEndian.AppendUint16(params, uint16(width))
	params = append(params, ids...)
	return Encode(Packet{ID: BroadcastID, Instruction: instSyncRead, Params: params})
}
