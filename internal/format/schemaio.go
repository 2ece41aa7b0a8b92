package format

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Schema records are stored under SchemaKeyPrefix + varUInt(version). The
// value holds the schema XML document, encoded according to the database
// format version: plain text under format 1, DEFLATE with the preset
// SchemaXMLDictionary under format 2.

// EncodeSchemaXML encodes raw schema XML for storage under the given
// database format version.
func EncodeSchemaXML(xml []byte, formatVersion int) ([]byte, error) {
	switch formatVersion {
	case FormatVersion1:
		out := make([]byte, len(xml))
		copy(out, xml)
		return out, nil
	case FormatVersion2:
		var buf bytes.Buffer
		w, err := flate.NewWriterDict(&buf, flate.BestCompression, []byte(SchemaXMLDictionary))
		if err != nil {
			return nil, fmt.Errorf("create compressor: %w", err)
		}
		if _, err := w.Write(xml); err != nil {
			return nil, fmt.Errorf("compress schema: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("flush compressor: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadFormatVersion, formatVersion)
	}
}

// DecodeSchemaXML decodes a stored schema record back into raw XML.
func DecodeSchemaXML(stored []byte, formatVersion int) ([]byte, error) {
	switch formatVersion {
	case FormatVersion1:
		out := make([]byte, len(stored))
		copy(out, stored)
		return out, nil
	case FormatVersion2:
		r := flate.NewReaderDict(bytes.NewReader(stored), []byte(SchemaXMLDictionary))
		defer r.Close()
		xml, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("decompress schema: %w", err)
		}
		return xml, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadFormatVersion, formatVersion)
	}
}

// SchemaKey builds the key of the schema record for a version.
func SchemaKey(version uint32) []byte {
	return AppendUvarint(append([]byte{}, SchemaKeyPrefix...), uint64(version))
}

// VersionIndexKeyPrefix builds the object-version index prefix for a version.
func VersionIndexKeyPrefix(version uint32) []byte {
	return AppendUvarint(append([]byte{}, VersionIndexPrefix...), uint64(version))
}
