package history

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so equal maps always produce identical blobs.
var encMode cbor.EncMode

// decMode decodes CBOR maps into map[string]interface{} so archived payloads look like decoded
// JSON to the rest of the gateway.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("history: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("history: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return encMode.Marshal(m)
}

func decodeMap(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
