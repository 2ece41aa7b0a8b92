package format

// Key builders for the object and index data ranges. All take raw byte
// components so this package stays below the identifier and codec layers.
//
// Object data:
//
//	objId                                      meta-data record
//	objId ‖ varUInt(fieldSID) [‖ subKey]       field storage
//
// Index entries (values always empty):
//
//	varUInt(fieldSID) ‖ value ‖ objId [‖ suffix]
//	varUInt(indexSID) ‖ value1 ‖ … ‖ valueN ‖ objId
//	0x00 0x80 ‖ varUInt(version) ‖ objId

// StorageIDPrefix returns the key prefix owning all data of a storage ID.
func StorageIDPrefix(sid uint32) []byte {
	return AppendUvarint(nil, uint64(sid))
}

// FieldKey builds an object field data key.
func FieldKey(objId []byte, fieldSID uint32, subKey []byte) []byte {
	key := make([]byte, 0, len(objId)+MaxUvarintLen+len(subKey))
	key = append(key, objId...)
	key = AppendUvarint(key, uint64(fieldSID))
	return append(key, subKey...)
}

// IndexKey builds an index entry key: the indexed storage ID, the encoded
// value bytes, the referring object ID, and an optional suffix (list
// index or encoded map key).
func IndexKey(indexSID uint32, value, objId, suffix []byte) []byte {
	key := AppendUvarint(make([]byte, 0, MaxUvarintLen+len(value)+len(objId)+len(suffix)), uint64(indexSID))
	key = append(key, value...)
	key = append(key, objId...)
	return append(key, suffix...)
}

// VersionIndexKey builds an object-version index entry key.
func VersionIndexKey(version uint32, objId []byte) []byte {
	key := append([]byte{}, VersionIndexPrefix...)
	key = AppendUvarint(key, uint64(version))
	return append(key, objId...)
}

// ObjectMetaValue encodes an object meta-data record.
func ObjectMetaValue(schemaVersion uint32, deleteNotified bool) []byte {
	v := []byte{MetaDataFormatVersion}
	v = AppendUvarint(v, uint64(schemaVersion))
	if deleteNotified {
		return append(v, 0x01)
	}
	return append(v, 0x00)
}

// ParseObjectMetaValue decodes an object meta-data record.
func ParseObjectMetaValue(v []byte) (schemaVersion uint32, deleteNotified bool, err error) {
	if len(v) < 3 {
		return 0, false, ErrTruncated
	}
	if v[0] != MetaDataFormatVersion {
		return 0, false, ErrInvalidEncoding
	}
	ver, n, err := Uvarint(v[1:])
	if err != nil {
		return 0, false, err
	}
	if len(v) != 1+n+1 {
		return 0, false, ErrInvalidEncoding
	}
	flag := v[1+n]
	if flag > 1 {
		return 0, false, ErrInvalidEncoding
	}
	return uint32(ver), flag == 1, nil
}
