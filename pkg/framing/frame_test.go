package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

const frameTestPrefix = "framing:frame_test"

func jsonDocOfLen(n int) []byte {
	switch {
	case n == 0:
		return []byte{}
	case n == 1:
		return []byte("1")
	default:
		// "aaa...a" is a valid JSON string of exactly n bytes.
		return []byte(`"` + strings.Repeat("a", n-2) + `"`)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 4096, 10 * 1024 * 1024} {
		doc := jsonDocOfLen(n)
		var buf bytes.Buffer
		if err := WriteFrame(&buf, doc); err != nil {
			t.Fatalf("%s - write len=%d: %v", frameTestPrefix, n, err)
		}
		if buf.Len() != HeaderLen+n {
			t.Fatalf("%s - encoded len=%d, want %d", frameTestPrefix, buf.Len(), HeaderLen+n)
		}
		got, err := ReadFrame(&buf, DefaultMaxFrameBytes)
		if err != nil {
			t.Fatalf("%s - read len=%d: %v", frameTestPrefix, n, err)
		}
		if !bytes.Equal(got, doc) {
			t.Errorf("%s - payload mismatch for len=%d", frameTestPrefix, n)
		}
	}
}

func TestHeaderIsLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"action":"heartbeat"}`)); err != nil {
		t.Fatalf("%s - write: %v", frameTestPrefix, err)
	}
	raw := buf.Bytes()
	if got := binary.LittleEndian.Uint32(raw[:4]); got != 22 {
		t.Errorf("%s - length prefix = %d, want 22", frameTestPrefix, got)
	}
	if raw[0] != 22 || raw[3] != 0 {
		t.Errorf("%s - prefix bytes not little-endian: %v", frameTestPrefix, raw[:4])
	}
}

func TestReadFrame_AccumulatesChunks(t *testing.T) {
	var buf bytes.Buffer
	doc := jsonDocOfLen(1000)
	if err := WriteFrame(&buf, doc); err != nil {
		t.Fatalf("%s - write: %v", frameTestPrefix, err)
	}
	got, err := ReadFrame(iotest.OneByteReader(&buf), DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("%s - read: %v", frameTestPrefix, err)
	}
	if !bytes.Equal(got, doc) {
		t.Errorf("%s - payload mismatch after byte-wise reads", frameTestPrefix)
	}
}

func TestReadFrame_ClosedByPeer(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty stream", nil},
		{"partial header", []byte{5, 0}},
		{"partial payload", append([]byte{10, 0, 0, 0}, []byte(`{"a":`)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.data), DefaultMaxFrameBytes)
			if !errors.Is(err, ErrClosedByPeer) {
				t.Errorf("%s - err = %v, want ErrClosedByPeer", frameTestPrefix, err)
			}
		})
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, jsonDocOfLen(100)); err != nil {
		t.Fatalf("%s - write: %v", frameTestPrefix, err)
	}
	if _, err := ReadFrame(&buf, 10); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("%s - err = %v, want ErrFrameTooLarge", frameTestPrefix, err)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]interface{}{"action": "get_scene_info", "params": map[string]interface{}{}}); err != nil {
		t.Fatalf("%s - write: %v", frameTestPrefix, err)
	}
	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("%s - read: %v", frameTestPrefix, err)
	}
	if string(got) != `{"action":"get_scene_info","params":{}}` {
		t.Errorf("%s - payload = %s", frameTestPrefix, got)
	}
	if err := WriteJSON(&buf, make(chan int)); err == nil {
		t.Errorf("%s - expected encode error", frameTestPrefix)
	}
}
