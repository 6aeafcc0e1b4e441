package serializer

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":    NewJSONSerializer,
	"GOB":     NewGOBSerializer,
	"Binary":  NewBinarySerializer,
	"Msgpack": NewMsgpackSerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTError},

		// Get request
		*common.NewGetRequest(777, "Default", []uint64{1, 42, 1 << 40}),

		// Get response with an absent entry in the middle
		*common.NewGetResponse([]uint64{1, 2, 3}, map[uint64][]byte{1: []byte("a"), 3: []byte("ccc")}, nil),

		// Put request
		*common.NewPutRequest(777, "Default", []uint64{42}, [][]byte{[]byte("P")}),

		// Broadcasts
		*common.NewFindMessage(777, "Default", []uint64{42}),
		*common.NewReleaseCacheMessage(777),

		// Identifier traffic
		*common.NewIdentifyRequest([][]byte{[]byte("key-a"), []byte("key-b")}),
		*common.NewResolveResponse([]uint64{1, 2}, [][]byte{[]byte("key-a"), {}}, nil),

		// Error response
		{
			MsgType: common.MsgTError,
			Err:     "test error message",
		},
	}
}

// equalMessages compares two messages, treating nil and empty slices as equal
func equalMessages(t *testing.T, want, got common.Message) {
	t.Helper()
	assert.Equal(t, want.MsgType, got.MsgType)
	assert.Equal(t, want.CycleID, got.CycleID)
	assert.Equal(t, want.CalcConfig, got.CalcConfig)
	assert.Equal(t, want.Err, got.Err)
	require.Equal(t, len(want.IDs), len(got.IDs))
	for i := range want.IDs {
		assert.Equal(t, want.IDs[i], got.IDs[i])
	}
	for name, lists := range map[string][2][][]byte{
		"payloads": {want.Payloads, got.Payloads},
		"keys":     {want.Keys, got.Keys},
	} {
		require.Equal(t, len(lists[0]), len(lists[1]), name)
		for i := range lists[0] {
			assert.True(t, bytes.Equal(lists[0][i], lists[1][i]), "%s[%d]: %q != %q", name, i, lists[0][i], lists[1][i])
		}
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				require.NoError(t, err, "message %d", i)

				var result common.Message
				require.NoError(t, serializer.Deserialize(data, &result), "message %d", i)
				equalMessages(t, msg, result)
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for _, msgType := range common.MessageTypes() {
				data, err := serializer.Serialize(common.Message{MsgType: msgType})
				require.NoError(t, err, msgType.String())

				var result common.Message
				require.NoError(t, serializer.Deserialize(data, &result), msgType.String())
				assert.Equal(t, msgType, result.MsgType)
			}
		})
	}
}

// TestDeserializeResetsMessage makes sure reused messages carry no stale fields
func TestDeserializeResetsMessage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			data, err := serializer.Serialize(*common.NewRegisterRequest("node-1"))
			require.NoError(t, err)

			msg := *common.NewPutRequest(1, "Default", []uint64{1}, [][]byte{{1}})
			msg.Err = "stale"
			require.NoError(t, serializer.Deserialize(data, &msg))
			equalMessages(t, *common.NewRegisterRequest("node-1"), msg)
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	// Test cases for empty or zero values
	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Only empty payloads",
			msg: common.Message{
				MsgType:  common.MsgTGet,
				IDs:      []uint64{1, 2},
				Payloads: [][]byte{{}, {}},
			},
		},
		{
			name: "Large payload",
			msg: common.Message{
				MsgType:  common.MsgTPut,
				CycleID:  1,
				IDs:      []uint64{7},
				Payloads: [][]byte{bytes.Repeat([]byte{0xAB}, 1<<16)},
			},
		},
		{
			name: "Unicode configuration",
			msg: common.Message{
				MsgType:    common.MsgTDelete,
				CalcConfig: "Défaut/∑",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			require.NoError(t, err)

			var result common.Message
			require.NoError(t, serializer.Deserialize(data, &result))
			equalMessages(t, tc.msg, result)
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1}, // Only message type, no flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Truncated cycle id",
			data:        []byte{3, hasCycleID, 0, 0, 0},
			expectError: true,
		},
		{
			name:        "Invalid length for configuration",
			data:        []byte{3, hasCalcConfig, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Too many ids",
			data:        []byte{3, hasIDs, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 1}, // Claims 2 ids but only one provided
			expectError: true,
		},
		{
			name:        "Huge payload count",
			data:        []byte{3, hasPayloads, 0xFF, 0xFF, 0xFF, 0xFF},
			expectError: true,
		},
		{
			name:        "Invalid length for payload",
			data:        []byte{3, hasPayloads, 0, 0, 0, 1, 0, 0, 0, 10}, // Claims payload length 10 but no bytes provided
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)
			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"binary", "GOB", "json", "msgpack", ""} {
		s, err := ByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	_, err := ByName("xml")
	assert.Error(t, err)
}
