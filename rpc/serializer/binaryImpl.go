package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dCache/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasCycleID    byte = 1 << 0
	hasCalcConfig byte = 1 << 1
	hasIDs        byte = 1 << 2
	hasPayloads   byte = 1 << 3
	hasKeys       byte = 1 << 4
	hasErr        byte = 1 << 5
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags byte
	var flags byte = 0

	// Set position for writing
	pos := 2 // Start after MsgType and flags

	// Handle CycleID
	if msg.CycleID > 0 {
		flags |= hasCycleID
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.CycleID)
		pos += 8
	}

	// Handle CalcConfig
	if msg.CalcConfig != "" {
		flags |= hasCalcConfig
		pos = putBytes(result, pos, []byte(msg.CalcConfig))
	}

	// Handle IDs
	if len(msg.IDs) > 0 {
		flags |= hasIDs
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.IDs)))
		pos += 4
		for _, id := range msg.IDs {
			binary.BigEndian.PutUint64(result[pos:pos+8], id)
			pos += 8
		}
	}

	// Handle Payloads
	if len(msg.Payloads) > 0 {
		flags |= hasPayloads
		pos = putList(result, pos, msg.Payloads)
	}

	// Handle Keys
	if len(msg.Keys) > 0 {
		flags |= hasKeys
		pos = putList(result, pos, msg.Keys)
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		putBytes(result, pos, []byte(msg.Err))
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{}

	// Read message type
	msg.MsgType = common.MessageType(data[0])

	// Read flags
	flags := data[1]

	// Initialize read position
	pos := 2

	// Read CycleID if present
	if flags&hasCycleID != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for cycle id")
		}
		msg.CycleID = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	// Read CalcConfig if present
	if flags&hasCalcConfig != 0 {
		v, next, err := readBytes(data, pos, "calculation configuration")
		if err != nil {
			return err
		}
		msg.CalcConfig = string(v)
		pos = next
	}

	// Read IDs if present
	if flags&hasIDs != 0 {
		n, next, err := readCount(data, pos, "ids", 8)
		if err != nil {
			return err
		}
		pos = next
		msg.IDs = make([]uint64, n)
		for i := range msg.IDs {
			msg.IDs[i] = binary.BigEndian.Uint64(data[pos : pos+8])
			pos += 8
		}
	}

	// Read Payloads if present
	if flags&hasPayloads != 0 {
		list, next, err := readList(data, pos, "payloads")
		if err != nil {
			return err
		}
		msg.Payloads = list
		pos = next
	}

	// Read Keys if present
	if flags&hasKeys != 0 {
		list, next, err := readList(data, pos, "keys")
		if err != nil {
			return err
		}
		msg.Keys = list
		pos = next
	}

	// Read Err if present
	if flags&hasErr != 0 {
		v, _, err := readBytes(data, pos, "error")
		if err != nil {
			return err
		}
		msg.Err = string(v)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.CycleID > 0 {
		size += 8 // uint64
	}
	if msg.CalcConfig != "" {
		size += 4 + len(msg.CalcConfig) // 4 bytes for length + string
	}
	if len(msg.IDs) > 0 {
		size += 4 + 8*len(msg.IDs) // 4 bytes for count + uint64 per id
	}
	if len(msg.Payloads) > 0 {
		size += listSize(msg.Payloads)
	}
	if len(msg.Keys) > 0 {
		size += listSize(msg.Keys)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) // 4 bytes for length + error string
	}

	return size
}

// listSize is the encoded size of a list: count, then length + bytes per element
func listSize(list [][]byte) int {
	size := 4
	for _, v := range list {
		size += 4 + len(v)
	}
	return size
}

// putBytes writes a length prefixed byte slice and returns the next position
func putBytes(dst []byte, pos int, v []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(v)))
	pos += 4
	copy(dst[pos:pos+len(v)], v)
	return pos + len(v)
}

// putList writes a counted list of length prefixed byte slices
func putList(dst []byte, pos int, list [][]byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(list)))
	pos += 4
	for _, v := range list {
		pos = putBytes(dst, pos, v)
	}
	return pos
}

// readCount reads a count and checks that count elements of elemSize bytes
// follow (elemSize is the minimum size for variable length elements)
func readCount(data []byte, pos int, field string, elemSize int) (int, int, error) {
	if pos+4 > len(data) {
		return 0, 0, fmt.Errorf("data too short for %s count", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if n < 0 || n > (len(data)-pos)/elemSize {
		return 0, 0, fmt.Errorf("data too short for %d %s", n, field)
	}
	return n, pos, nil
}

// readBytes reads a length prefixed byte slice. The result is a copy.
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, 0, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if n < 0 || pos+n > len(data) {
		return nil, 0, fmt.Errorf("data too short for %s data", field)
	}
	v := make([]byte, n)
	copy(v, data[pos:pos+n])
	return v, pos + n, nil
}

// readList reads a counted list of length prefixed byte slices
func readList(data []byte, pos int, field string) ([][]byte, int, error) {
	n, pos, err := readCount(data, pos, field, 4)
	if err != nil {
		return nil, 0, err
	}
	list := make([][]byte, n)
	for i := range list {
		list[i], pos, err = readBytes(data, pos, field)
		if err != nil {
			return nil, 0, err
		}
	}
	return list, pos, nil
}
