package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{name: "no files", d: Descriptor{
			DeviceID:      "device-1",
			MeasurementID: "42",
			DeviceType:    "Pixel 7",
			OSVersion:     "Android 14",
		}},
		{name: "one file", d: Descriptor{
			DeviceID:      "d",
			MeasurementID: "m",
			DeviceType:    "iPhone 15",
			OSVersion:     "iOS 17.4",
			Files:         []FileRef{{Path: "objects/abc.ccyf", FileType: "ccyf"}},
		}},
		{name: "many files", d: Descriptor{
			DeviceID:      "3f8a4c2e-device",
			MeasurementID: "1007",
			DeviceType:    "Pixel 7 Pro",
			OSVersion:     "Android 14 (UP1A)",
			Files: []FileRef{
				{Path: "objects/a", FileType: "ccyf"},
				{Path: "objects/b.jpg", FileType: "jpg"},
				{Path: "objects/c.csv", FileType: "csv"},
			},
		}},
		{name: "empty fields", d: Descriptor{}},
		{name: "length-looking bytes in path", d: Descriptor{
			DeviceID:      "dev",
			MeasurementID: "7",
			DeviceType:    "x",
			OSVersion:     "y",
			Files: []FileRef{
				// Path bytes that could be mistaken for a uint32 length
				// prefix if the decoder read from a stale offset.
				{Path: "\x00\x00\x00\x08abcdefgh", FileType: "bin"},
				{Path: "\x00\x00\x00\x01", FileType: "bin"},
			},
		}},
		{name: "unicode", d: Descriptor{
			DeviceID:      "ger-ät",
			MeasurementID: "messung-β",
			DeviceType:    "Gerätetyp",
			OSVersion:     "版本",
			Files:         []FileRef{{Path: "objekte/straße", FileType: "ccyf"}},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(Encode(tc.d))
			require.NoError(t, err)

			assert.Equal(t, tc.d.DeviceID, got.DeviceID)
			assert.Equal(t, tc.d.MeasurementID, got.MeasurementID)
			assert.Equal(t, tc.d.DeviceType, got.DeviceType)
			assert.Equal(t, tc.d.OSVersion, got.OSVersion)
			// The reference set is order-independent.
			assert.ElementsMatch(t, tc.d.Files, got.Files)
		})
	}
}

func TestDecode_VaryingFieldLengths(t *testing.T) {
	// Fields of sharply different lengths force the decoder to derive
	// every boundary from the running cursor instead of fixed offsets.
	d := Descriptor{
		DeviceID:      "a",
		MeasurementID: "a-very-long-measurement-identifier-0123456789",
		DeviceType:    "",
		OSVersion:     "14",
		Files:         []FileRef{{Path: "p", FileType: "a-rather-long-file-type-tag"}},
	}

	got, err := Decode(Encode(d))
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDecode_Truncated(t *testing.T) {
	full := Encode(Descriptor{
		DeviceID:      "dev",
		MeasurementID: "1",
		DeviceType:    "t",
		OSVersion:     "v",
		Files:         []FileRef{{Path: "objects/x", FileType: "ccyf"}},
	})

	for cut := 0; cut < len(full); cut++ {
		_, err := Decode(full[:cut])
		require.Error(t, err, "decoding %d of %d bytes must fail", cut, len(full))
	}
}

func TestDecode_TrailingGarbage(t *testing.T) {
	payload := Encode(Descriptor{DeviceID: "d", MeasurementID: "m"})
	payload = append(payload, 0xFF)

	_, err := Decode(payload)
	require.Error(t, err)
}
