// Package codec implements ordered, self-delimiting binary encodings for
// every value type the object database supports.
//
// # Ordering contract
//
// Every codec produces serializations whose lexicographic byte order
// equals the semantic order of the values: numeric for numbers, temporal
// for dates, lexicographic for strings. This is what lets the engine
// translate index queries directly into key range scans.
//
// # Composition contract
//
// Encodings are prefix-free and self-delimiting: Skip can step over a
// value without decoding it, and no valid encoding is a proper prefix of
// another from the same codec. Each codec additionally declares whether
// its output may begin with 0x00 or 0xff; the schema validator uses these
// predicates when codecs are concatenated inside keys, and composite
// encodings insert framing bytes where an element codec may begin with
// 0x00.
//
// # Registry
//
// A Registry resolves the codec identifiers appearing in schema XML to
// codec instances. NewRegistry pre-populates every built-in codec; callers
// may Add their own, provided they honor the contracts above.
package codec
