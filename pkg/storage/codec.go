package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

func u64be(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func beU64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func balanceKey(asset, user common.Address) []byte {
	k := make([]byte, 0, len(balPrefix)+2*common.AddressLength)
	k = append(k, balPrefix...)
	k = append(k, asset.Bytes()...)
	k = append(k, user.Bytes()...)
	return k
}

func orderKey(id uint64) []byte {
	return append(append([]byte{}, ordPrefix...), u64be(id)...)
}

func eventKey(seq uint64) []byte {
	return append(append([]byte{}, evtPrefix...), u64be(seq)...)
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}
