// Package wire implements the binary handoff format used to move a
// completed upload's descriptor from the ingestion path to the asynchronous
// persistence worker.
//
// Layout (all integers big-endian uint32):
//
//	header: len(deviceID) | len(measurementID) | len(deviceType) | len(osVersion)
//	body:   deviceID measurementID deviceType osVersion
//	refs:   count, then per reference len(path) path len(fileType) fileType
package wire

import (
	"encoding/binary"
	"fmt"
)

// FileRef points at one durably stored object belonging to an upload.
type FileRef struct {
	// Path is the retrievable object name in the durable backend.
	Path string
	// FileType tags the payload kind (e.g. "ccyf", "jpg").
	FileType string
}

// Descriptor summarizes one completed upload. It is a transient handoff
// value, never persisted itself.
type Descriptor struct {
	DeviceID      string
	MeasurementID string
	DeviceType    string
	OSVersion     string
	Files         []FileRef
}

const headerLen = 4 * 4

// Encode serializes d into the handoff byte format.
func Encode(d Descriptor) []byte {
	size := headerLen +
		len(d.DeviceID) + len(d.MeasurementID) + len(d.DeviceType) + len(d.OSVersion) + 4
	for _, f := range d.Files {
		size += 4 + len(f.Path) + 4 + len(f.FileType)
	}

	buf := make([]byte, 0, size)

	var scratch [4]byte
	putUint32 := func(v int) {
		binary.BigEndian.PutUint32(scratch[:], uint32(v))
		buf = append(buf, scratch[:]...)
	}

	putUint32(len(d.DeviceID))
	putUint32(len(d.MeasurementID))
	putUint32(len(d.DeviceType))
	putUint32(len(d.OSVersion))

	buf = append(buf, d.DeviceID...)
	buf = append(buf, d.MeasurementID...)
	buf = append(buf, d.DeviceType...)
	buf = append(buf, d.OSVersion...)

	putUint32(len(d.Files))
	for _, f := range d.Files {
		putUint32(len(f.Path))
		buf = append(buf, f.Path...)
		putUint32(len(f.FileType))
		buf = append(buf, f.FileType...)
	}

	return buf
}

// Decode parses a payload produced by Encode. Every field boundary is
// derived from a running cursor, so the format tolerates fields of any
// length, including strings that themselves contain length-looking bytes.
func Decode(data []byte) (Descriptor, error) {
	var d Descriptor

	cursor := 0

	readUint32 := func() (int, error) {
		if cursor+4 > len(data) {
			return 0, fmt.Errorf("wire: truncated payload at offset %d", cursor)
		}
		v := binary.BigEndian.Uint32(data[cursor : cursor+4])
		cursor += 4
		return int(v), nil
	}

	readString := func(n int) (string, error) {
		if n < 0 || cursor+n > len(data) {
			return "", fmt.Errorf("wire: truncated payload at offset %d", cursor)
		}
		s := string(data[cursor : cursor+n])
		cursor += n
		return s, nil
	}

	if len(data) < headerLen {
		return d, fmt.Errorf("wire: payload shorter than header: %d bytes", len(data))
	}

	deviceLen, err := readUint32()
	if err != nil {
		return d, err
	}
	measurementLen, err := readUint32()
	if err != nil {
		return d, err
	}
	deviceTypeLen, err := readUint32()
	if err != nil {
		return d, err
	}
	osVersionLen, err := readUint32()
	if err != nil {
		return d, err
	}

	if d.DeviceID, err = readString(deviceLen); err != nil {
		return d, err
	}
	if d.MeasurementID, err = readString(measurementLen); err != nil {
		return d, err
	}
	if d.DeviceType, err = readString(deviceTypeLen); err != nil {
		return d, err
	}
	if d.OSVersion, err = readString(osVersionLen); err != nil {
		return d, err
	}

	count, err := readUint32()
	if err != nil {
		return d, err
	}
	for i := 0; i < count; i++ {
		pathLen, err := readUint32()
		if err != nil {
			return d, err
		}
		path, err := readString(pathLen)
		if err != nil {
			return d, err
		}
		typeLen, err := readUint32()
		if err != nil {
			return d, err
		}
		fileType, err := readString(typeLen)
		if err != nil {
			return d, err
		}
		d.Files = append(d.Files, FileRef{Path: path, FileType: fileType})
	}

	if cursor != len(data) {
		return d, fmt.Errorf("wire: %d trailing bytes after descriptor", len(data)-cursor)
	}

	return d, nil
}
