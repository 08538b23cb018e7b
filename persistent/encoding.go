package persistent

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/rayos-project/consensus/common"
)

func encodeEntry(entry common.LogEntry) ([]byte, error) {
	buf := bytes.Buffer{}
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(b []byte) (common.LogEntry, error) {
	var entry common.LogEntry
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&entry)
	return entry, err
}

func uint64ToBytes(u uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	return buf
}
