package storage

import "encoding/json"

func marshalSnapshot(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalSnapshot(data []byte, dest any) error {
	return json.Unmarshal(data, dest)
}
