package util

import (
	"github.com/jobala/petro/storage/disk"
	"github.com/vmihailenco/msgpack"
)

// ToByteSlice marshals obj with msgpack into a page-sized buffer, left-packed
// and zero-padded. It is used only for pages without a bit-exact layout
// requirement, such as the B+Tree header page.
func ToByteSlice[T any](obj T) ([]byte, error) {
	res := make([]byte, disk.PAGE_SIZE)

	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}
	copy(res, data)

	return res, nil
}

// ToStruct unmarshals a msgpack-encoded page buffer back into T.
func ToStruct[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}

	return res, nil
}
