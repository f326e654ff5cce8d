package desc

import (
	dpb "google.golang.org/protobuf/types/descriptorpb"
)

// Descriptor is the common interface implemented by all resolved
// descriptor views. Views are read-only projections into a Pool's
// graph; they are created during Pool construction and never mutated
// afterwards.
type Descriptor interface {
	// Name returns the bare name of the described element, without any
	// enclosing message or package qualifier. For files it is the path.
	Name() string
	// FullName returns the fully-qualified, dot-separated name. For
	// files it is the path.
	FullName() string
	// File returns the file in which the element was declared. Files
	// return themselves.
	File() *FileDescriptor
	// Parent returns the enclosing element, or nil for files.
	Parent() Descriptor
}

// FileDescriptor describes one schema file loaded into a pool.
type FileDescriptor struct {
	pool       *Pool
	proto      *dpb.FileDescriptorProto
	pkg        string
	proto3     bool
	messages   []*MessageDescriptor
	enums      []*EnumDescriptor
	extensions []*FieldDescriptor
	services   []*ServiceDescriptor
}

func (fd *FileDescriptor) Name() string           { return fd.proto.GetName() }
func (fd *FileDescriptor) FullName() string       { return fd.proto.GetName() }
func (fd *FileDescriptor) File() *FileDescriptor  { return fd }
func (fd *FileDescriptor) Parent() Descriptor     { return nil }
func (fd *FileDescriptor) Pool() *Pool            { return fd.pool }
func (fd *FileDescriptor) Package() string        { return fd.pkg }
func (fd *FileDescriptor) IsProto3() bool         { return fd.proto3 }

// Messages returns the file's top-level message types.
func (fd *FileDescriptor) Messages() []*MessageDescriptor { return fd.messages }

// Enums returns the file's top-level enum types.
func (fd *FileDescriptor) Enums() []*EnumDescriptor { return fd.enums }

// Extensions returns the extensions declared at the file's top level.
func (fd *FileDescriptor) Extensions() []*FieldDescriptor { return fd.extensions }

// Services returns the services declared in the file.
func (fd *FileDescriptor) Services() []*ServiceDescriptor { return fd.services }

// AsFileDescriptorProto returns the schema description this view was
// built from. Callers must not mutate it.
func (fd *FileDescriptor) AsFileDescriptorProto() *dpb.FileDescriptorProto { return fd.proto }

// MessageDescriptor describes a message type.
type MessageDescriptor struct {
	proto            *dpb.DescriptorProto
	file             *FileDescriptor
	parent           Descriptor
	fqn              string
	fields           []*FieldDescriptor
	fieldsByNumber   map[int32]*FieldDescriptor
	fieldsByName     map[string]*FieldDescriptor
	fieldsByJSONName map[string]*FieldDescriptor
	oneofs           []*OneofDescriptor
	nested           []*MessageDescriptor
	enums            []*EnumDescriptor
	extensions       []*FieldDescriptor
	wkt              WellKnownType
}

func (md *MessageDescriptor) Name() string          { return md.proto.GetName() }
func (md *MessageDescriptor) FullName() string      { return md.fqn }
func (md *MessageDescriptor) File() *FileDescriptor { return md.file }
func (md *MessageDescriptor) Parent() Descriptor    { return md.parent }
func (md *MessageDescriptor) Pool() *Pool           { return md.file.pool }

// Fields returns the message's fields in declaration order.
func (md *MessageDescriptor) Fields() []*FieldDescriptor { return md.fields }

// FindFieldByNumber returns the field with the given tag number, or
// nil if the message has no such field. Extensions are not searched;
// use Pool.FindExtension for those.
func (md *MessageDescriptor) FindFieldByNumber(number int32) *FieldDescriptor {
	return md.fieldsByNumber[number]
}

// FindFieldByName returns the field with the given declared name, or nil.
func (md *MessageDescriptor) FindFieldByName(name string) *FieldDescriptor {
	return md.fieldsByName[name]
}

// FindFieldByJSONName returns the field with the given JSON name, or nil.
func (md *MessageDescriptor) FindFieldByJSONName(name string) *FieldDescriptor {
	return md.fieldsByJSONName[name]
}

// Oneofs returns the message's oneof groups, synthetic ones (from
// proto3 optional fields) included.
func (md *MessageDescriptor) Oneofs() []*OneofDescriptor { return md.oneofs }

// NestedMessages returns message types declared inside this message.
func (md *MessageDescriptor) NestedMessages() []*MessageDescriptor { return md.nested }

// NestedEnums returns enum types declared inside this message.
func (md *MessageDescriptor) NestedEnums() []*EnumDescriptor { return md.enums }

// NestedExtensions returns extensions declared inside this message.
func (md *MessageDescriptor) NestedExtensions() []*FieldDescriptor { return md.extensions }

// IsMapEntry reports whether this is the synthetic entry type of a map
// field (key at tag 1, value at tag 2).
func (md *MessageDescriptor) IsMapEntry() bool {
	return md.proto.GetOptions().GetMapEntry()
}

// WellKnownType returns the tag for messages whose fully-qualified
// name is one of the reserved well-known names, or WellKnownNone.
func (md *MessageDescriptor) WellKnownType() WellKnownType { return md.wkt }

// IsExtendable reports whether the message declares any extension ranges.
func (md *MessageDescriptor) IsExtendable() bool {
	return len(md.proto.GetExtensionRange()) > 0
}

// IsExtensionNumber reports whether the given tag number falls inside
// one of the message's extension ranges.
func (md *MessageDescriptor) IsExtensionNumber(number int32) bool {
	for _, r := range md.proto.GetExtensionRange() {
		// ranges are half-open: [start, end)
		if number >= r.GetStart() && number < r.GetEnd() {
			return true
		}
	}
	return false
}

// AsDescriptorProto returns the underlying schema description.
// Callers must not mutate it.
func (md *MessageDescriptor) AsDescriptorProto() *dpb.DescriptorProto { return md.proto }

// FieldDescriptor describes a field of a message, or an extension.
type FieldDescriptor struct {
	proto    *dpb.FieldDescriptorProto
	file     *FileDescriptor
	parent   Descriptor
	owner    *MessageDescriptor
	oneof    *OneofDescriptor
	msgType  *MessageDescriptor
	enumType *EnumDescriptor
	fqn      string
	jsonName string
	kind     dpb.FieldDescriptorProto_Type
}

func (fd *FieldDescriptor) Name() string          { return fd.proto.GetName() }
func (fd *FieldDescriptor) FullName() string      { return fd.fqn }
func (fd *FieldDescriptor) File() *FileDescriptor { return fd.file }
func (fd *FieldDescriptor) Parent() Descriptor    { return fd.parent }

// Number returns the field's tag number.
func (fd *FieldDescriptor) Number() int32 { return fd.proto.GetNumber() }

// JSONName returns the name used in the canonical JSON mapping: the
// declared json_name override if present, else the lower-camel-case
// form of the field name.
func (fd *FieldDescriptor) JSONName() string { return fd.jsonName }

// Type returns the field's declared type. When the schema description
// omitted the type and only named a target symbol, the type inferred
// during resolution is returned.
func (fd *FieldDescriptor) Type() dpb.FieldDescriptorProto_Type { return fd.kind }

// Label returns the field's declared label.
func (fd *FieldDescriptor) Label() dpb.FieldDescriptorProto_Label { return fd.proto.GetLabel() }

// Owner returns the message this field belongs to. For extensions this
// is the extended message, which differs from Parent (the declaration
// site).
func (fd *FieldDescriptor) Owner() *MessageDescriptor { return fd.owner }

// Oneof returns the oneof group containing this field, or nil.
func (fd *FieldDescriptor) Oneof() *OneofDescriptor { return fd.oneof }

// MessageType returns the field's target message type, or nil if the
// field is not message-typed.
func (fd *FieldDescriptor) MessageType() *MessageDescriptor { return fd.msgType }

// EnumType returns the field's target enum type, or nil if the field
// is not enum-typed.
func (fd *FieldDescriptor) EnumType() *EnumDescriptor { return fd.enumType }

// IsExtension reports whether this field is an extension.
func (fd *FieldDescriptor) IsExtension() bool { return fd.proto.GetExtendee() != "" }

// IsRequired reports whether the field carries the proto2 "required" label.
func (fd *FieldDescriptor) IsRequired() bool {
	return fd.proto.GetLabel() == dpb.FieldDescriptorProto_LABEL_REQUIRED
}

// IsRepeated reports whether the field carries the "repeated" label.
// Map fields are repeated at the wire level and report true here; use
// IsMap to distinguish them.
func (fd *FieldDescriptor) IsRepeated() bool {
	return fd.proto.GetLabel() == dpb.FieldDescriptorProto_LABEL_REPEATED
}

// IsMap reports whether this is a map field: a repeated field whose
// type is a synthetic map-entry message.
func (fd *FieldDescriptor) IsMap() bool {
	return fd.IsRepeated() &&
		fd.kind == dpb.FieldDescriptorProto_TYPE_MESSAGE &&
		fd.msgType.IsMapEntry()
}

// MapKeyField returns the entry type's key field (tag 1) for map
// fields, or nil otherwise.
func (fd *FieldDescriptor) MapKeyField() *FieldDescriptor {
	if !fd.IsMap() {
		return nil
	}
	return fd.msgType.FindFieldByNumber(1)
}

// MapValueField returns the entry type's value field (tag 2) for map
// fields, or nil otherwise.
func (fd *FieldDescriptor) MapValueField() *FieldDescriptor {
	if !fd.IsMap() {
		return nil
	}
	return fd.msgType.FindFieldByNumber(2)
}

// IsPacked reports whether a repeated field encodes as one
// length-delimited record. An explicit [packed=...] option wins;
// otherwise proto3 packs every packable scalar and proto2 packs none.
func (fd *FieldDescriptor) IsPacked() bool {
	if !fd.IsRepeated() || fd.IsMap() || !isPackableType(fd.kind) {
		return false
	}
	if opts := fd.proto.GetOptions(); opts != nil && opts.Packed != nil {
		return opts.GetPacked()
	}
	return fd.file.proto3
}

// SupportsPresence reports whether "absent" and "set to the default"
// are distinguishable states for this field: message- and group-typed
// singular fields, oneof members (proto3 optional fields included, via
// their synthetic oneof), and every singular proto2 field.
func (fd *FieldDescriptor) SupportsPresence() bool {
	if fd.IsRepeated() {
		return false
	}
	switch {
	case fd.kind == dpb.FieldDescriptorProto_TYPE_MESSAGE,
		fd.kind == dpb.FieldDescriptorProto_TYPE_GROUP:
		return true
	case fd.oneof != nil:
		return true
	case fd.IsExtension():
		return true
	default:
		return !fd.file.proto3
	}
}

// AsFieldDescriptorProto returns the underlying schema description.
// Callers must not mutate it.
func (fd *FieldDescriptor) AsFieldDescriptorProto() *dpb.FieldDescriptorProto { return fd.proto }

func isPackableType(t dpb.FieldDescriptorProto_Type) bool {
	switch t {
	case dpb.FieldDescriptorProto_TYPE_STRING,
		dpb.FieldDescriptorProto_TYPE_BYTES,
		dpb.FieldDescriptorProto_TYPE_MESSAGE,
		dpb.FieldDescriptorProto_TYPE_GROUP:
		return false
	default:
		return true
	}
}

// OneofDescriptor describes a oneof group: a set of fields of which at
// most one may be present at a time.
type OneofDescriptor struct {
	proto  *dpb.OneofDescriptorProto
	owner  *MessageDescriptor
	fields []*FieldDescriptor
	fqn    string
	index  int
}

func (od *OneofDescriptor) Name() string          { return od.proto.GetName() }
func (od *OneofDescriptor) FullName() string      { return od.fqn }
func (od *OneofDescriptor) File() *FileDescriptor { return od.owner.file }
func (od *OneofDescriptor) Parent() Descriptor    { return od.owner }

// Owner returns the message declaring this oneof.
func (od *OneofDescriptor) Owner() *MessageDescriptor { return od.owner }

// Fields returns the member fields of the oneof.
func (od *OneofDescriptor) Fields() []*FieldDescriptor { return od.fields }

// IsSynthetic reports whether the oneof exists only to give a proto3
// optional field explicit presence.
func (od *OneofDescriptor) IsSynthetic() bool {
	return len(od.fields) == 1 && od.fields[0].proto.GetProto3Optional()
}

// EnumDescriptor describes an enum type.
type EnumDescriptor struct {
	proto          *dpb.EnumDescriptorProto
	file           *FileDescriptor
	parent         Descriptor
	values         []*EnumValueDescriptor
	valuesByName   map[string]*EnumValueDescriptor
	valuesByNumber map[int32]*EnumValueDescriptor
	fqn            string
}

func (ed *EnumDescriptor) Name() string          { return ed.proto.GetName() }
func (ed *EnumDescriptor) FullName() string      { return ed.fqn }
func (ed *EnumDescriptor) File() *FileDescriptor { return ed.file }
func (ed *EnumDescriptor) Parent() Descriptor    { return ed.parent }

// Values returns the enum's values in declaration order.
func (ed *EnumDescriptor) Values() []*EnumValueDescriptor { return ed.values }

// FindValueByName returns the value with the given name, or nil.
func (ed *EnumDescriptor) FindValueByName(name string) *EnumValueDescriptor {
	return ed.valuesByName[name]
}

// FindValueByNumber returns the value with the given number, or nil.
// When aliases share a number, the first declared value wins.
func (ed *EnumDescriptor) FindValueByNumber(number int32) *EnumValueDescriptor {
	return ed.valuesByNumber[number]
}

// AsEnumDescriptorProto returns the underlying schema description.
// Callers must not mutate it.
func (ed *EnumDescriptor) AsEnumDescriptorProto() *dpb.EnumDescriptorProto { return ed.proto }

// EnumValueDescriptor describes one value of an enum.
type EnumValueDescriptor struct {
	proto  *dpb.EnumValueDescriptorProto
	parent *EnumDescriptor
	fqn    string
}

func (vd *EnumValueDescriptor) Name() string          { return vd.proto.GetName() }
func (vd *EnumValueDescriptor) FullName() string      { return vd.fqn }
func (vd *EnumValueDescriptor) File() *FileDescriptor { return vd.parent.file }
func (vd *EnumValueDescriptor) Parent() Descriptor    { return vd.parent }

// Enum returns the enum declaring this value.
func (vd *EnumValueDescriptor) Enum() *EnumDescriptor { return vd.parent }

// Number returns the numeric value.
func (vd *EnumValueDescriptor) Number() int32 { return vd.proto.GetNumber() }

// ServiceDescriptor describes a service. The pool resolves services so
// that RPC layers built on top of it can look up method types; no
// transport lives in this module.
type ServiceDescriptor struct {
	proto   *dpb.ServiceDescriptorProto
	file    *FileDescriptor
	methods []*MethodDescriptor
	fqn     string
}

func (sd *ServiceDescriptor) Name() string          { return sd.proto.GetName() }
func (sd *ServiceDescriptor) FullName() string      { return sd.fqn }
func (sd *ServiceDescriptor) File() *FileDescriptor { return sd.file }
func (sd *ServiceDescriptor) Parent() Descriptor    { return sd.file }

// Methods returns the service's methods in declaration order.
func (sd *ServiceDescriptor) Methods() []*MethodDescriptor { return sd.methods }

// FindMethodByName returns the method with the given bare name, or nil.
func (sd *ServiceDescriptor) FindMethodByName(name string) *MethodDescriptor {
	for _, md := range sd.methods {
		if md.Name() == name {
			return md
		}
	}
	return nil
}

// MethodDescriptor describes one method of a service.
type MethodDescriptor struct {
	proto   *dpb.MethodDescriptorProto
	parent  *ServiceDescriptor
	inType  *MessageDescriptor
	outType *MessageDescriptor
	fqn     string
}

func (md *MethodDescriptor) Name() string          { return md.proto.GetName() }
func (md *MethodDescriptor) FullName() string      { return md.fqn }
func (md *MethodDescriptor) File() *FileDescriptor { return md.parent.file }
func (md *MethodDescriptor) Parent() Descriptor    { return md.parent }

// Service returns the service declaring this method.
func (md *MethodDescriptor) Service() *ServiceDescriptor { return md.parent }

// InputType returns the request message type.
func (md *MethodDescriptor) InputType() *MessageDescriptor { return md.inType }

// OutputType returns the response message type.
func (md *MethodDescriptor) OutputType() *MessageDescriptor { return md.outType }

// IsClientStreaming reports whether the client streams requests.
func (md *MethodDescriptor) IsClientStreaming() bool { return md.proto.GetClientStreaming() }

// IsServerStreaming reports whether the server streams responses.
func (md *MethodDescriptor) IsServerStreaming() bool { return md.proto.GetServerStreaming() }

func merge(a, b string) string {
	if a == "" {
		return b
	}
	return a + "." + b
}

// jsonCamelCase converts a snake_case field name to the lowerCamelCase
// form the JSON mapping uses when no json_name override is declared.
func jsonCamelCase(name string) string {
	var out []byte
	upper := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}
