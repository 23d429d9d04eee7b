package state

import "encoding/binary"

var (
	stateVersionKey      = []byte("state/version")
	presaleConfigKey     = []byte("presale/config")
	presaleStateKey      = []byte("presale/state")
	presaleGrantPrefix   = []byte("presale/grant/")
	presaleAccountPrefix = []byte("presale/account/")
)

// presaleGrantKey uses a big-endian id so prefix iteration yields grants in
// creation order.
func presaleGrantKey(id uint64) []byte {
	buf := make([]byte, len(presaleGrantPrefix)+8)
	copy(buf, presaleGrantPrefix)
	binary.BigEndian.PutUint64(buf[len(presaleGrantPrefix):], id)
	return buf
}

func presaleAccountKey(addr [20]byte) []byte {
	buf := make([]byte, len(presaleAccountPrefix)+len(addr))
	copy(buf, presaleAccountPrefix)
	copy(buf[len(presaleAccountPrefix):], addr[:])
	return buf
}
