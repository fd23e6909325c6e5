package oop

// Kind describes how to build one kind of object: its type tag, its shape
// and the initializer run on the fresh object before it is handed out.
//
// Initialize runs before the object is reachable, so it must use the Init*
// setters and may not allocate.
type Kind struct {
	Name       string
	Type       TypeTag
	Fields     int
	Bytes      int
	Initialize func(obj *Object)
}

// Size returns the allocation size of an object of this kind.
func (k *Kind) Size() uintptr {
	return SizeFor(k.Fields, k.Bytes)
}

// WithFields returns a copy of k with n reference fields.
func (k Kind) WithFields(n int) *Kind {
	k.Fields = n
	return &k
}

// WithBytes returns a copy of k with an n-byte payload.
func (k Kind) WithBytes(n int) *Kind {
	k.Bytes = n
	return &k
}

// Built-in kinds. Their shape is the minimum; NewFields and NewBytes widen
// them.
var (
	PlainObject = &Kind{Name: "Object", Type: ObjectType}
	TupleKind   = &Kind{Name: "Tuple", Type: TupleType}
	ByteArray   = &Kind{Name: "ByteArray", Type: ByteArrayType}
	StringKind  = &Kind{Name: "String", Type: StringType}
	ClassKind   = &Kind{Name: "Class", Type: ClassType, Fields: 4}
	ModuleKind  = &Kind{Name: "Module", Type: ModuleType, Fields: 2}
	CodeKind    = &Kind{Name: "CompiledCode", Type: CompiledCodeType, Fields: 2}
	DataKind    = &Kind{Name: "Data", Type: DataType}
)
