// Package nrbf reads .NET Remoting Binary Format streams, the
// serialization used by the companion apps' save files. It decodes the
// subset of MS-NRBF that appears in those saves and records the byte
// position of fixed-size primitive members so a single member can be
// rewritten in place without re-serializing the stream.
package nrbf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"time"
	"unicode/utf8"
)

// PrimitiveType identifies a .NET primitive encoding.
type PrimitiveType byte

const (
	PrimBoolean  PrimitiveType = 1
	PrimByte     PrimitiveType = 2
	PrimChar     PrimitiveType = 3
	PrimDecimal  PrimitiveType = 5
	PrimDouble   PrimitiveType = 6
	PrimInt16    PrimitiveType = 7
	PrimInt32    PrimitiveType = 8
	PrimInt64    PrimitiveType = 9
	PrimSByte    PrimitiveType = 10
	PrimSingle   PrimitiveType = 11
	PrimTimeSpan PrimitiveType = 12
	PrimDateTime PrimitiveType = 13
	PrimUInt16   PrimitiveType = 14
	PrimUInt32   PrimitiveType = 15
	PrimUInt64   PrimitiveType = 16
	PrimNull     PrimitiveType = 17
	PrimString   PrimitiveType = 18
)

// Record type enumeration from MS-NRBF.
const (
	recSerializedStreamHeader     = 0
	recClassWithID                = 1
	recSystemClassWithMembers     = 2
	recClassWithMembers           = 3
	recSystemClassWithMembersAndT = 4
	recClassWithMembersAndTypes   = 5
	recBinaryObjectString         = 6
	recBinaryArray                = 7
	recMemberPrimitiveTyped       = 8
	recMemberReference            = 9
	recObjectNull                 = 10
	recMessageEnd                 = 11
	recBinaryLibrary              = 12
	recObjectNullMultiple256      = 13
	recObjectNullMultiple         = 14
	recArraySinglePrimitive       = 15
	recArraySingleObject          = 16
	recArraySingleString          = 17
	recBinaryMethodCall           = 21
	recBinaryMethodReturn         = 22
)

// BinaryTypeEnumeration, used in member type info.
const (
	btPrimitive      = 0
	btString         = 1
	btObject         = 2
	btSystemClass    = 3
	btClass          = 4
	btObjectArray    = 5
	btStringArray    = 6
	btPrimitiveArray = 7
)

// BinaryArrayTypeEnumeration.
const (
	atSingle            = 0
	atJagged            = 1
	atRectangular       = 2
	atSingleOffset      = 3
	atJaggedOffset      = 4
	atRectangularOffset = 5
)

// Object is one decoded class instance. Member values are Go analogs
// of the .NET primitives (bool, int32, string, time.Time, ...), nested
// *Objects, []any arrays, []byte blobs, or nil.
type Object struct {
	Class   string
	names   []string
	values  []any
	offsets []patchSite
}

// patchSite records where a fixed-size primitive member's payload sits
// in the stream. pos is -1 for members that cannot be patched.
type patchSite struct {
	pos  int64
	kind PrimitiveType
}

// Member returns the named member's value.
func (o *Object) Member(name string) (any, bool) {
	for i, n := range o.names {
		if n == name {
			return o.values[i], true
		}
	}
	return nil, false
}

// MemberNames returns the member names in declaration order.
func (o *Object) MemberNames() []string {
	return append([]string(nil), o.names...)
}

// Len returns the member count.
func (o *Object) Len() int {
	return len(o.values)
}

// At returns the value of the i'th member.
func (o *Object) At(i int) any {
	return o.values[i]
}

func (o *Object) index(name string) int {
	for i, n := range o.names {
		if n == name {
			return i
		}
	}
	return -1
}

// Document is a fully decoded stream. It keeps the raw bytes so
// PatchMember can rewrite primitive members in place.
type Document struct {
	data []byte
	root any
}

// Root returns the stream's root object.
func (d *Document) Root() any {
	return d.root
}

// Bytes returns the underlying stream, reflecting any patches applied.
func (d *Document) Bytes() []byte {
	return d.data
}

// IsStream reports whether data begins with a valid NRBF
// serialization header. It does not decode the rest of the stream.
func IsStream(data []byte) bool {
	if len(data) < 17 || data[0] != recSerializedStreamHeader {
		return false
	}
	rootID := int32(binary.LittleEndian.Uint32(data[1:5]))
	major := int32(binary.LittleEndian.Uint32(data[9:13]))
	minor := int32(binary.LittleEndian.Uint32(data[13:17]))
	return rootID != 0 && major == 1 && minor == 0
}

// Decode parses a complete NRBF stream and returns its object graph.
func Decode(data []byte) (*Document, error) {
	d := &decoder{
		r:       bytes.NewReader(data),
		classes: make(map[int32]*classDef),
		objects: make(map[int32]any),
	}

	if err := d.readHeader(); err != nil {
		return nil, err
	}
	for {
		v, err := d.readRecord()
		if err != nil {
			return nil, err
		}
		if _, done := v.(messageEnd); done {
			break
		}
	}
	if err := d.resolveReferences(); err != nil {
		return nil, err
	}

	root, ok := d.objects[d.rootID]
	if !ok {
		return nil, fmt.Errorf("root object id %d not present in stream", d.rootID)
	}
	return &Document{data: data, root: root}, nil
}

// CanPatch reports whether the object's member can be rewritten in
// place.
func (d *Document) CanPatch(obj *Object, member string) bool {
	i := obj.index(member)
	return i >= 0 && obj.offsets[i].pos >= 0
}

// PatchMember rewrites the stored encoding of a fixed-size primitive
// member directly in the stream bytes. The decoded value held by obj
// is left unchanged.
func (d *Document) PatchMember(obj *Object, member string, value any) error {
	i := obj.index(member)
	if i < 0 {
		return fmt.Errorf("class %s has no member %q", obj.Class, member)
	}
	site := obj.offsets[i]
	if site.pos < 0 {
		return fmt.Errorf("member %q of %s is not a fixed-size primitive", member, obj.Class)
	}
	return encodeAt(d.data, site, value)
}

// encodeAt writes value at the recorded position using the member's
// original primitive encoding.
func encodeAt(data []byte, site patchSite, value any) error {
	size, _ := fixedSize(site.kind)
	if site.pos+int64(size) > int64(len(data)) {
		return fmt.Errorf("patch position %d out of range", site.pos)
	}
	buf := data[site.pos : site.pos+int64(size)]

	if site.kind == PrimBoolean {
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("boolean member requires a bool value, got %T", value)
		}
		buf[0] = 0
		if b {
			buf[0] = 1
		}
		return nil
	}

	switch site.kind {
	case PrimSingle:
		f, ok := asFloat64(value)
		if !ok {
			return fmt.Errorf("single member requires a float value, got %T", value)
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return nil
	case PrimDouble:
		f, ok := asFloat64(value)
		if !ok {
			return fmt.Errorf("double member requires a float value, got %T", value)
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return nil
	}

	n, ok := asInt64(value)
	if !ok {
		return fmt.Errorf("integer member requires an integer value, got %T", value)
	}
	min, max := intRange(site.kind)
	if n < min || (n > 0 && uint64(n) > max) {
		return fmt.Errorf("value %d out of range for member type", n)
	}
	switch size {
	case 1:
		buf[0] = byte(n)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(n))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(n))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(n))
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// intRange gives the encodable bounds per integer primitive kind.
func intRange(t PrimitiveType) (int64, uint64) {
	switch t {
	case PrimByte:
		return 0, math.MaxUint8
	case PrimSByte:
		return math.MinInt8, math.MaxInt8
	case PrimInt16:
		return math.MinInt16, math.MaxInt16
	case PrimUInt16:
		return 0, math.MaxUint16
	case PrimInt32:
		return math.MinInt32, math.MaxInt32
	case PrimUInt32:
		return 0, math.MaxUint32
	case PrimInt64:
		return math.MinInt64, math.MaxInt64
	case PrimUInt64:
		return 0, math.MaxUint64
	}
	return 0, 0
}

// fixedSize returns the encoded byte width of primitives that can be
// rewritten in place.
func fixedSize(t PrimitiveType) (int, bool) {
	switch t {
	case PrimBoolean, PrimByte, PrimSByte:
		return 1, true
	case PrimInt16, PrimUInt16:
		return 2, true
	case PrimInt32, PrimUInt32, PrimSingle:
		return 4, true
	case PrimInt64, PrimUInt64, PrimDouble:
		return 8, true
	}
	return 0, false
}

// Walk visits every class instance reachable from v, including v
// itself, once. Returning false from fn stops the walk.
func Walk(v any, fn func(*Object) bool) {
	walk(v, fn, make(map[uintptr]bool))
}

func walk(v any, fn func(*Object) bool, seen map[uintptr]bool) bool {
	switch t := v.(type) {
	case *Object:
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			return true
		}
		seen[p] = true
		if !fn(t) {
			return false
		}
		for _, m := range t.values {
			if !walk(m, fn, seen) {
				return false
			}
		}
	case []any:
		if len(t) == 0 {
			return true
		}
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			return true
		}
		seen[p] = true
		for _, e := range t {
			if !walk(e, fn, seen) {
				return false
			}
		}
	}
	return true
}

// classDef is the reusable metadata of a class record, keyed by the
// object id of the record that introduced it.
type classDef struct {
	name       string
	members    []string
	primitives map[int]PrimitiveType
}

// Marker values returned while reading records.
type (
	reference     struct{ id int32 }
	nullRun       struct{ count int }
	binaryLibrary struct{}
	messageEnd    struct{}
)

type decoder struct {
	r       *bytes.Reader
	classes map[int32]*classDef
	objects map[int32]any
	rootID  int32
}

func (d *decoder) pos() int64 {
	return d.r.Size() - int64(d.r.Len())
}

func (d *decoder) readHeader() error {
	rt, err := d.readByte()
	if err != nil {
		return fmt.Errorf("read stream header: %w", err)
	}
	if rt != recSerializedStreamHeader {
		return fmt.Errorf("not an NRBF stream (first record type %d)", rt)
	}
	rootID, err := d.readInt32()
	if err != nil {
		return err
	}
	if _, err := d.readInt32(); err != nil { // header id, unused
		return err
	}
	major, err := d.readInt32()
	if err != nil {
		return err
	}
	minor, err := d.readInt32()
	if err != nil {
		return err
	}
	if major != 1 || minor != 0 {
		return fmt.Errorf("unsupported NRBF version %d.%d", major, minor)
	}
	if rootID == 0 {
		return fmt.Errorf("stream declares no root object")
	}
	d.rootID = rootID
	return nil
}

// readRecord reads one record, dispatching on the leading type byte.
func (d *decoder) readRecord() (any, error) {
	rt, err := d.readByte()
	if err != nil {
		return nil, fmt.Errorf("read record type: %w", err)
	}
	return d.readRecordBody(rt)
}

func (d *decoder) readRecordBody(rt byte) (any, error) {
	switch rt {
	case recClassWithID:
		objectID, err := d.readInt32()
		if err != nil {
			return nil, err
		}
		metaID, err := d.readInt32()
		if err != nil {
			return nil, err
		}
		cls, ok := d.classes[metaID]
		if !ok {
			return nil, fmt.Errorf("class record references unknown metadata id %d", metaID)
		}
		return d.readMembers(cls, objectID)

	case recSystemClassWithMembers:
		cls, objectID, err := d.readClassInfo()
		if err != nil {
			return nil, err
		}
		return d.readMembers(cls, objectID)

	case recClassWithMembers:
		cls, objectID, err := d.readClassInfo()
		if err != nil {
			return nil, err
		}
		if _, err := d.readInt32(); err != nil { // library id, unused
			return nil, err
		}
		return d.readMembers(cls, objectID)

	case recSystemClassWithMembersAndT:
		cls, objectID, err := d.readClassInfo()
		if err != nil {
			return nil, err
		}
		if err := d.readMemberTypeInfo(cls); err != nil {
			return nil, err
		}
		return d.readMembers(cls, objectID)

	case recClassWithMembersAndTypes:
		cls, objectID, err := d.readClassInfo()
		if err != nil {
			return nil, err
		}
		if err := d.readMemberTypeInfo(cls); err != nil {
			return nil, err
		}
		if _, err := d.readInt32(); err != nil { // library id, unused
			return nil, err
		}
		return d.readMembers(cls, objectID)

	case recBinaryObjectString:
		objectID, err := d.readInt32()
		if err != nil {
			return nil, err
		}
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		d.objects[objectID] = s
		return s, nil

	case recBinaryArray:
		return d.readBinaryArray()

	case recMemberPrimitiveTyped:
		pt, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readPrimitive(PrimitiveType(pt))

	case recMemberReference:
		id, err := d.readInt32()
		if err != nil {
			return nil, err
		}
		return &reference{id: id}, nil

	case recObjectNull:
		return nil, nil

	case recMessageEnd:
		return messageEnd{}, nil

	case recBinaryLibrary:
		if _, err := d.readInt32(); err != nil { // library id
			return nil, err
		}
		if _, err := d.readString(); err != nil { // library name
			return nil, err
		}
		return binaryLibrary{}, nil

	case recObjectNullMultiple256:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid null run length %d", n)
		}
		return nullRun{count: int(n)}, nil

	case recObjectNullMultiple:
		n, err := d.readInt32()
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid null run length %d", n)
		}
		return nullRun{count: int(n)}, nil

	case recArraySinglePrimitive:
		objectID, length, err := d.readArrayInfo()
		if err != nil {
			return nil, err
		}
		pt, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readArrayElements(objectID, length, PrimitiveType(pt))

	case recArraySingleObject, recArraySingleString:
		objectID, length, err := d.readArrayInfo()
		if err != nil {
			return nil, err
		}
		return d.readArrayElements(objectID, length, 0)

	case recBinaryMethodCall, recBinaryMethodReturn:
		return nil, fmt.Errorf("remoting method records are not supported")

	default:
		return nil, fmt.Errorf("unsupported record type %d at offset %d", rt, d.pos()-1)
	}
}

// readClassInfo reads a ClassInfo structure and registers the class
// under the record's object id for later ClassWithId reuse.
func (d *decoder) readClassInfo() (*classDef, int32, error) {
	objectID, err := d.readInt32()
	if err != nil {
		return nil, 0, err
	}
	name, err := d.readString()
	if err != nil {
		return nil, 0, err
	}
	count, err := d.readInt32()
	if err != nil {
		return nil, 0, err
	}
	if count < 0 || int64(count) > int64(d.r.Len()) {
		return nil, 0, fmt.Errorf("class %s declares implausible member count %d", name, count)
	}

	members := make([]string, count)
	for i := range members {
		if members[i], err = d.readString(); err != nil {
			return nil, 0, err
		}
	}

	cls := &classDef{
		name:       name,
		members:    members,
		primitives: make(map[int]PrimitiveType),
	}
	d.classes[objectID] = cls
	return cls, objectID, nil
}

// readMemberTypeInfo reads the per-member binary types, retaining the
// primitive kinds needed to read member payloads later.
func (d *decoder) readMemberTypeInfo(cls *classDef) error {
	kinds := make([]byte, len(cls.members))
	for i := range kinds {
		b, err := d.readByte()
		if err != nil {
			return err
		}
		kinds[i] = b
	}
	for i, bt := range kinds {
		switch bt {
		case btPrimitive:
			pt, err := d.readByte()
			if err != nil {
				return err
			}
			cls.primitives[i] = PrimitiveType(pt)
		case btPrimitiveArray:
			if _, err := d.readByte(); err != nil {
				return err
			}
		case btString, btObject, btObjectArray, btStringArray:
			// no additional info
		case btSystemClass:
			if _, err := d.readString(); err != nil {
				return err
			}
		case btClass:
			if _, err := d.readString(); err != nil { // type name
				return err
			}
			if _, err := d.readInt32(); err != nil { // library id
				return err
			}
		default:
			return fmt.Errorf("unsupported binary type %d in member info", bt)
		}
	}
	return nil
}

// readMembers reads the member values of one class instance and
// registers it under objectID.
func (d *decoder) readMembers(cls *classDef, objectID int32) (*Object, error) {
	obj := &Object{
		Class:   cls.name,
		names:   cls.members,
		values:  make([]any, len(cls.members)),
		offsets: make([]patchSite, len(cls.members)),
	}
	for i := range obj.offsets {
		obj.offsets[i].pos = -1
	}

	i := 0
	for i < len(obj.values) {
		val, site, err := d.readMemberValue(cls.primitives[i])
		if err != nil {
			return nil, fmt.Errorf("member %s.%s: %w", cls.name, cls.members[i], err)
		}
		// A BinaryLibrary record can precede the real member value.
		if _, isLib := val.(binaryLibrary); isLib {
			if val, site, err = d.readMemberValue(cls.primitives[i]); err != nil {
				return nil, fmt.Errorf("member %s.%s: %w", cls.name, cls.members[i], err)
			}
		}
		if run, isRun := val.(nullRun); isRun {
			i += run.count
			continue
		}
		obj.values[i] = val
		obj.offsets[i] = site
		i++
	}

	d.objects[objectID] = obj
	return obj, nil
}

// readMemberValue reads either the declared primitive or the next
// record, recording the payload position of fixed-size primitives.
func (d *decoder) readMemberValue(pt PrimitiveType) (any, patchSite, error) {
	site := patchSite{pos: -1}
	if pt != 0 {
		if _, fixed := fixedSize(pt); fixed {
			site = patchSite{pos: d.pos(), kind: pt}
		}
		v, err := d.readPrimitive(pt)
		return v, site, err
	}

	rt, err := d.readByte()
	if err != nil {
		return nil, site, err
	}
	if rt == recMemberPrimitiveTyped {
		b, err := d.readByte()
		if err != nil {
			return nil, site, err
		}
		inner := PrimitiveType(b)
		if _, fixed := fixedSize(inner); fixed {
			site = patchSite{pos: d.pos(), kind: inner}
		}
		v, err := d.readPrimitive(inner)
		return v, site, err
	}
	v, err := d.readRecordBody(rt)
	return v, site, err
}

func (d *decoder) readArrayInfo() (int32, int32, error) {
	objectID, err := d.readInt32()
	if err != nil {
		return 0, 0, err
	}
	length, err := d.readInt32()
	if err != nil {
		return 0, 0, err
	}
	if length < 0 || int64(length) > int64(d.r.Len()) {
		return 0, 0, fmt.Errorf("implausible array length %d", length)
	}
	return objectID, length, nil
}

// readBinaryArray handles the general array record. Only
// single-dimension layouts appear in the save files; rectangular
// arrays are rejected.
func (d *decoder) readBinaryArray() (any, error) {
	objectID, err := d.readInt32()
	if err != nil {
		return nil, err
	}
	arrayType, err := d.readByte()
	if err != nil {
		return nil, err
	}
	rank, err := d.readInt32()
	if err != nil {
		return nil, err
	}
	if rank < 1 || rank > 32 {
		return nil, fmt.Errorf("implausible array rank %d", rank)
	}
	lengths := make([]int32, rank)
	for i := range lengths {
		if lengths[i], err = d.readInt32(); err != nil {
			return nil, err
		}
	}
	switch arrayType {
	case atSingleOffset, atJaggedOffset, atRectangularOffset:
		for range lengths { // lower bounds, unused
			if _, err := d.readInt32(); err != nil {
				return nil, err
			}
		}
	}

	bt, err := d.readByte()
	if err != nil {
		return nil, err
	}
	var primType PrimitiveType
	switch bt {
	case btPrimitive, btPrimitiveArray:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if bt == btPrimitive {
			primType = PrimitiveType(b)
		}
	case btString, btObject, btObjectArray, btStringArray:
		// no additional info
	case btSystemClass:
		if _, err := d.readString(); err != nil {
			return nil, err
		}
	case btClass:
		if _, err := d.readString(); err != nil {
			return nil, err
		}
		if _, err := d.readInt32(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported binary type %d in array info", bt)
	}

	if arrayType == atRectangular || arrayType == atRectangularOffset {
		return nil, fmt.Errorf("rectangular arrays are not supported")
	}
	if rank != 1 {
		return nil, fmt.Errorf("rank %d array with non-rectangular layout", rank)
	}
	if int64(lengths[0]) > int64(d.r.Len()) {
		return nil, fmt.Errorf("implausible array length %d", lengths[0])
	}
	return d.readArrayElements(objectID, lengths[0], primType)
}

// readArrayElements reads a single-dimension array body. Byte arrays
// decode to []byte; everything else to []any.
func (d *decoder) readArrayElements(objectID, length int32, pt PrimitiveType) (any, error) {
	if pt == PrimByte {
		buf := make([]byte, length)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, fmt.Errorf("read byte array: %w", err)
		}
		d.objects[objectID] = buf
		return buf, nil
	}

	vals := make([]any, length)
	i := 0
	for i < len(vals) {
		val, _, err := d.readMemberValue(pt)
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, err)
		}
		if _, isLib := val.(binaryLibrary); isLib {
			if val, _, err = d.readMemberValue(pt); err != nil {
				return nil, fmt.Errorf("array element %d: %w", i, err)
			}
		}
		if run, isRun := val.(nullRun); isRun {
			i += run.count
			continue
		}
		vals[i] = val
		i++
	}
	d.objects[objectID] = vals
	return vals, nil
}

// resolveReferences replaces reference placeholders with the objects
// they point to. Every referenceable container is registered in
// d.objects, so a single pass over the map reaches all of them.
func (d *decoder) resolveReferences() error {
	for _, v := range d.objects {
		switch t := v.(type) {
		case *Object:
			for i, m := range t.values {
				if ref, ok := m.(*reference); ok {
					target, ok := d.objects[ref.id]
					if !ok {
						return fmt.Errorf("unresolvable reference to object id %d", ref.id)
					}
					t.values[i] = target
				}
			}
		case []any:
			for i, e := range t {
				if ref, ok := e.(*reference); ok {
					target, ok := d.objects[ref.id]
					if !ok {
						return fmt.Errorf("unresolvable reference to object id %d", ref.id)
					}
					t[i] = target
				}
			}
		}
	}
	return nil
}

func (d *decoder) readByte() (byte, error) {
	return d.r.ReadByte()
}

func (d *decoder) readInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (d *decoder) readUint64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// readString reads a LengthPrefixedString: a 7-bits-per-byte varint
// length of at most 5 bytes, then that many UTF-8 bytes.
func (d *decoder) readString() (string, error) {
	length := 0
	for shift := 0; ; shift += 7 {
		if shift >= 5*7 {
			return "", fmt.Errorf("string length prefix overflow")
		}
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		length |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
	}
	if length < 0 || length > d.r.Len() {
		return "", fmt.Errorf("string length %d exceeds remaining stream", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readChar reads one UTF-8 encoded character.
func (d *decoder) readChar() (string, error) {
	first, err := d.readByte()
	if err != nil {
		return "", err
	}
	n := 1
	switch {
	case first < 0x80:
		n = 1
	case first >= 0xc0 && first < 0xe0:
		n = 2
	case first >= 0xe0 && first < 0xf0:
		n = 3
	case first >= 0xf0 && first < 0xf8:
		n = 4
	default:
		return "", fmt.Errorf("invalid char encoding 0x%02x", first)
	}
	buf := make([]byte, n)
	buf[0] = first
	if _, err := io.ReadFull(d.r, buf[1:]); err != nil {
		return "", err
	}
	r, size := utf8.DecodeRune(buf)
	if r == utf8.RuneError && size <= 1 {
		return "", fmt.Errorf("invalid char encoding")
	}
	return string(buf), nil
}

// readDateTime decodes the packed tick count: two kind bits, then a
// 62-bit two's complement count of 100ns intervals since year 1.
func (d *decoder) readDateTime() (time.Time, error) {
	raw, err := d.readUint64()
	if err != nil {
		return time.Time{}, err
	}
	kind := raw >> 62
	ticks := int64(raw & (1<<62 - 1))
	if ticks >= 1<<61 {
		ticks -= 1 << 62
	}

	const ticksPerSecond = 10_000_000
	const epochSeconds = 62135596800 // year 1 to the Unix epoch
	secs := ticks/ticksPerSecond - epochSeconds
	nanos := (ticks % ticksPerSecond) * 100

	t := time.Unix(secs, nanos).UTC()
	if kind == 2 { // ticks hold local wall-clock time
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
	}
	return t, nil
}

func (d *decoder) readPrimitive(t PrimitiveType) (any, error) {
	switch t {
	case PrimBoolean:
		b, err := d.readByte()
		return b != 0, err
	case PrimByte:
		return d.readByte()
	case PrimChar:
		return d.readChar()
	case PrimDecimal:
		return d.readString()
	case PrimDouble:
		v, err := d.readUint64()
		return math.Float64frombits(v), err
	case PrimInt16:
		var buf [2]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return nil, err
		}
		return int16(binary.LittleEndian.Uint16(buf[:])), nil
	case PrimInt32:
		return d.readInt32()
	case PrimInt64:
		v, err := d.readUint64()
		return int64(v), err
	case PrimSByte:
		b, err := d.readByte()
		return int8(b), err
	case PrimSingle:
		var buf [4]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[:])), nil
	case PrimTimeSpan:
		v, err := d.readUint64()
		return time.Duration(int64(v) * 100), err
	case PrimDateTime:
		return d.readDateTime()
	case PrimUInt16:
		var buf [2]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint16(buf[:]), nil
	case PrimUInt32:
		v, err := d.readInt32()
		return uint32(v), err
	case PrimUInt64:
		return d.readUint64()
	case PrimNull:
		return nil, nil
	case PrimString:
		return d.readString()
	default:
		return nil, fmt.Errorf("unsupported primitive type %d", t)
	}
}
