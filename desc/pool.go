// Package desc implements a descriptor pool: a validated,
// cross-referenced graph of message, enum, service, and extension
// descriptors built from already-compiled schema descriptions
// (google.protobuf.FileDescriptorProto messages).
//
// A Pool follows a single-writer-then-many-readers discipline. All
// calls to AddFile/AddFiles/AddFileSet must complete before the pool is
// shared; once built it is immutable and may be read concurrently
// without synchronization. Each addition is atomic: if validation
// fails, the pool is left exactly as it was.
package desc

import (
	"sort"
	"strings"

	"google.golang.org/protobuf/proto"
	dpb "google.golang.org/protobuf/types/descriptorpb"
)

// Pool owns a resolved set of descriptors. Every fully-qualified name
// is unique across all files in the pool, and every type reference in
// the pool resolves to a definition also in the pool.
type Pool struct {
	files       []*FileDescriptor
	filesByName map[string]*FileDescriptor
	symbols     map[string]Descriptor
	// extensions indexes resolved extension fields by the
	// fully-qualified name of the message they extend.
	extensions map[string]map[int32]*FieldDescriptor
}

// NewPool builds a pool from the given schema descriptions. Files must
// be ordered so that imports precede importers (the order a
// FileDescriptorSet produced by a compiler already has).
func NewPool(files ...*dpb.FileDescriptorProto) (*Pool, error) {
	p := &Pool{
		filesByName: map[string]*FileDescriptor{},
		symbols:     map[string]Descriptor{},
		extensions:  map[string]map[int32]*FieldDescriptor{},
	}
	if err := p.AddFiles(files...); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPoolFromSet builds a pool from a FileDescriptorSet.
func NewPoolFromSet(set *dpb.FileDescriptorSet) (*Pool, error) {
	return NewPool(set.GetFile()...)
}

// NewPoolFromBytes builds a pool from a serialized FileDescriptorSet,
// the self-describing bootstrap format compilers emit (protoc
// --descriptor_set_out, buf build -o).
func NewPoolFromBytes(data []byte) (*Pool, error) {
	var set dpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, &MalformedDescriptorError{File: "(descriptor set)", Reason: err.Error()}
	}
	return NewPoolFromSet(&set)
}

// AddFile extends the pool with one more schema description, validated
// against everything already present.
func (p *Pool) AddFile(fd *dpb.FileDescriptorProto) error {
	return p.AddFiles(fd)
}

// AddFileSet extends the pool with all files in the given set.
func (p *Pool) AddFileSet(set *dpb.FileDescriptorSet) error {
	return p.AddFiles(set.GetFile()...)
}

// AddFiles extends the pool with a batch of schema descriptions. The
// batch is validated as a unit: name collisions and unresolvable
// references anywhere in it leave the pool unchanged. Re-adding a file
// byte-identical to one already present is a no-op; the same file name
// with different contents is a duplicate-symbol error.
func (p *Pool) AddFiles(files ...*dpb.FileDescriptorProto) error {
	s := &stage{
		pool:       p,
		protos:     map[string]*dpb.FileDescriptorProto{},
		symbols:    map[string]Descriptor{},
		extensions: map[string]map[int32]*FieldDescriptor{},
	}

	var pending []*dpb.FileDescriptorProto
	for _, fdp := range files {
		name := fdp.GetName()
		if name == "" {
			return malformed("(unnamed)", "file has no name")
		}
		if existing, ok := p.filesByName[name]; ok {
			if proto.Equal(existing.proto, fdp) {
				continue
			}
			return &DuplicateSymbolError{Symbol: name, File: name, ExistingFile: name}
		}
		if prior, ok := s.protos[name]; ok {
			if proto.Equal(prior, fdp) {
				continue
			}
			return &DuplicateSymbolError{Symbol: name, File: name, ExistingFile: name}
		}
		s.protos[name] = fdp
		pending = append(pending, fdp)
	}

	// every import must be satisfied by the pool or by the batch itself
	for _, fdp := range pending {
		for _, dep := range fdp.GetDependency() {
			if _, ok := p.filesByName[dep]; ok {
				continue
			}
			if _, ok := s.protos[dep]; ok {
				continue
			}
			return malformed(fdp.GetName(), "missing import %q", dep)
		}
	}

	for _, fdp := range pending {
		fd, err := s.createFile(fdp)
		if err != nil {
			return err
		}
		s.files = append(s.files, fd)
	}
	for _, fd := range s.files {
		if err := s.resolveFile(fd); err != nil {
			return err
		}
	}

	// all validation has passed; commit
	for _, fd := range s.files {
		p.files = append(p.files, fd)
		p.filesByName[fd.Name()] = fd
	}
	for name, d := range s.symbols {
		p.symbols[name] = d
	}
	for owner, byNumber := range s.extensions {
		dest := p.extensions[owner]
		if dest == nil {
			dest = map[int32]*FieldDescriptor{}
			p.extensions[owner] = dest
		}
		for number, xd := range byNumber {
			dest[number] = xd
		}
	}
	return nil
}

// Files returns all files in the pool, in the order they were added.
func (p *Pool) Files() []*FileDescriptor { return p.files }

// FindFile returns the file with the given path, or nil.
func (p *Pool) FindFile(name string) *FileDescriptor { return p.filesByName[name] }

// FindSymbol returns the descriptor registered under the given
// fully-qualified name, or nil.
func (p *Pool) FindSymbol(name string) Descriptor { return p.symbols[name] }

// FindMessage returns the message with the given fully-qualified name,
// or nil.
func (p *Pool) FindMessage(name string) *MessageDescriptor {
	md, _ := p.symbols[name].(*MessageDescriptor)
	return md
}

// FindEnum returns the enum with the given fully-qualified name, or nil.
func (p *Pool) FindEnum(name string) *EnumDescriptor {
	ed, _ := p.symbols[name].(*EnumDescriptor)
	return ed
}

// FindService returns the service with the given fully-qualified name,
// or nil.
func (p *Pool) FindService(name string) *ServiceDescriptor {
	sd, _ := p.symbols[name].(*ServiceDescriptor)
	return sd
}

// FindExtension returns the extension field with the given tag number
// extending the named message, or nil.
func (p *Pool) FindExtension(extendee string, number int32) *FieldDescriptor {
	return p.extensions[extendee][number]
}

// FindExtensionsFor returns all known extensions of the named message,
// ordered by tag number.
func (p *Pool) FindExtensionsFor(extendee string) []*FieldDescriptor {
	byNumber := p.extensions[extendee]
	if len(byNumber) == 0 {
		return nil
	}
	result := make([]*FieldDescriptor, 0, len(byNumber))
	for _, xd := range byNumber {
		result = append(result, xd)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number() < result[j].Number() })
	return result
}

// stage accumulates one batch of files during AddFiles. Nothing in it
// touches the pool until the whole batch has validated.
type stage struct {
	pool       *Pool
	protos     map[string]*dpb.FileDescriptorProto
	files      []*FileDescriptor
	symbols    map[string]Descriptor
	extensions map[string]map[int32]*FieldDescriptor
}

func (s *stage) lookup(name string) Descriptor {
	if d, ok := s.symbols[name]; ok {
		return d
	}
	if d, ok := s.pool.symbols[name]; ok {
		return d
	}
	return nil
}

func (s *stage) register(name string, d Descriptor) error {
	if prev, ok := s.pool.symbols[name]; ok {
		return &DuplicateSymbolError{Symbol: name, File: d.File().Name(), ExistingFile: prev.File().Name()}
	}
	if prev, ok := s.symbols[name]; ok {
		return &DuplicateSymbolError{Symbol: name, File: d.File().Name(), ExistingFile: prev.File().Name()}
	}
	s.symbols[name] = d
	return nil
}

func (s *stage) createFile(fdp *dpb.FileDescriptorProto) (*FileDescriptor, error) {
	var proto3 bool
	switch syntax := fdp.GetSyntax(); syntax {
	case "", "proto2":
		proto3 = false
	case "proto3":
		proto3 = true
	default:
		return nil, malformed(fdp.GetName(), "unsupported syntax %q", syntax)
	}
	fd := &FileDescriptor{
		pool:   s.pool,
		proto:  fdp,
		pkg:    fdp.GetPackage(),
		proto3: proto3,
	}
	pkg := fdp.GetPackage()
	for _, mdp := range fdp.GetMessageType() {
		md, err := s.createMessage(fd, fd, pkg, mdp)
		if err != nil {
			return nil, err
		}
		fd.messages = append(fd.messages, md)
	}
	for _, edp := range fdp.GetEnumType() {
		ed, err := s.createEnum(fd, fd, pkg, edp)
		if err != nil {
			return nil, err
		}
		fd.enums = append(fd.enums, ed)
	}
	for _, xdp := range fdp.GetExtension() {
		xd, err := s.createField(fd, fd, pkg, xdp)
		if err != nil {
			return nil, err
		}
		fd.extensions = append(fd.extensions, xd)
	}
	for _, sdp := range fdp.GetService() {
		sd, err := s.createService(fd, pkg, sdp)
		if err != nil {
			return nil, err
		}
		fd.services = append(fd.services, sd)
	}
	return fd, nil
}

func (s *stage) createMessage(fd *FileDescriptor, parent Descriptor, enclosing string, mdp *dpb.DescriptorProto) (*MessageDescriptor, error) {
	fqn := merge(enclosing, mdp.GetName())
	md := &MessageDescriptor{
		proto:            mdp,
		file:             fd,
		parent:           parent,
		fqn:              fqn,
		fieldsByNumber:   map[int32]*FieldDescriptor{},
		fieldsByName:     map[string]*FieldDescriptor{},
		fieldsByJSONName: map[string]*FieldDescriptor{},
		wkt:              wellKnownTypes[fqn],
	}
	if err := s.register(fqn, md); err != nil {
		return nil, err
	}
	for _, fldp := range mdp.GetField() {
		fld, err := s.createField(fd, md, fqn, fldp)
		if err != nil {
			return nil, err
		}
		if _, ok := md.fieldsByNumber[fld.Number()]; ok {
			return nil, malformed(fd.Name(), "message %s reuses field number %d", fqn, fld.Number())
		}
		md.fields = append(md.fields, fld)
		md.fieldsByNumber[fld.Number()] = fld
		md.fieldsByName[fld.Name()] = fld
		md.fieldsByJSONName[fld.jsonName] = fld
	}
	for i, odp := range mdp.GetOneofDecl() {
		od := &OneofDescriptor{
			proto: odp,
			owner: md,
			fqn:   merge(fqn, odp.GetName()),
			index: i,
		}
		if err := s.register(od.fqn, od); err != nil {
			return nil, err
		}
		md.oneofs = append(md.oneofs, od)
	}
	for _, fld := range md.fields {
		oi := fld.proto.OneofIndex
		if oi == nil {
			continue
		}
		if *oi < 0 || int(*oi) >= len(md.oneofs) {
			return nil, malformed(fd.Name(), "field %s has oneof index %d out of range", fld.fqn, *oi)
		}
		od := md.oneofs[*oi]
		fld.oneof = od
		od.fields = append(od.fields, fld)
	}
	for _, nmdp := range mdp.GetNestedType() {
		nmd, err := s.createMessage(fd, md, fqn, nmdp)
		if err != nil {
			return nil, err
		}
		md.nested = append(md.nested, nmd)
	}
	for _, edp := range mdp.GetEnumType() {
		ed, err := s.createEnum(fd, md, fqn, edp)
		if err != nil {
			return nil, err
		}
		md.enums = append(md.enums, ed)
	}
	for _, xdp := range mdp.GetExtension() {
		xd, err := s.createField(fd, md, fqn, xdp)
		if err != nil {
			return nil, err
		}
		md.extensions = append(md.extensions, xd)
	}
	return md, nil
}

func (s *stage) createField(fd *FileDescriptor, parent Descriptor, enclosing string, fldp *dpb.FieldDescriptorProto) (*FieldDescriptor, error) {
	fqn := merge(enclosing, fldp.GetName())
	jsonName := fldp.GetJsonName()
	if jsonName == "" {
		jsonName = jsonCamelCase(fldp.GetName())
	}
	fld := &FieldDescriptor{
		proto:    fldp,
		file:     fd,
		parent:   parent,
		fqn:      fqn,
		jsonName: jsonName,
		kind:     fldp.GetType(),
	}
	if fldp.GetExtendee() == "" {
		owner, ok := parent.(*MessageDescriptor)
		if !ok {
			return nil, malformed(fd.Name(), "non-extension field %s declared outside a message", fqn)
		}
		fld.owner = owner
	}
	// extension owners and message/enum target types resolve later
	if err := s.register(fqn, fld); err != nil {
		return nil, err
	}
	return fld, nil
}

func (s *stage) createEnum(fd *FileDescriptor, parent Descriptor, enclosing string, edp *dpb.EnumDescriptorProto) (*EnumDescriptor, error) {
	fqn := merge(enclosing, edp.GetName())
	ed := &EnumDescriptor{
		proto:          edp,
		file:           fd,
		parent:         parent,
		fqn:            fqn,
		valuesByName:   map[string]*EnumValueDescriptor{},
		valuesByNumber: map[int32]*EnumValueDescriptor{},
	}
	if err := s.register(fqn, ed); err != nil {
		return nil, err
	}
	if len(edp.GetValue()) == 0 {
		return nil, malformed(fd.Name(), "enum %s has no values", fqn)
	}
	for _, evdp := range edp.GetValue() {
		vd := &EnumValueDescriptor{
			proto:  evdp,
			parent: ed,
			fqn:    merge(fqn, evdp.GetName()),
		}
		if err := s.register(vd.fqn, vd); err != nil {
			return nil, err
		}
		ed.values = append(ed.values, vd)
		ed.valuesByName[vd.Name()] = vd
		if _, ok := ed.valuesByNumber[vd.Number()]; !ok {
			ed.valuesByNumber[vd.Number()] = vd
		}
	}
	return ed, nil
}

func (s *stage) createService(fd *FileDescriptor, enclosing string, sdp *dpb.ServiceDescriptorProto) (*ServiceDescriptor, error) {
	fqn := merge(enclosing, sdp.GetName())
	sd := &ServiceDescriptor{proto: sdp, file: fd, fqn: fqn}
	if err := s.register(fqn, sd); err != nil {
		return nil, err
	}
	for _, mdp := range sdp.GetMethod() {
		md := &MethodDescriptor{
			proto:  mdp,
			parent: sd,
			fqn:    merge(fqn, mdp.GetName()),
		}
		if err := s.register(md.fqn, md); err != nil {
			return nil, err
		}
		sd.methods = append(sd.methods, md)
	}
	return sd, nil
}

// resolveFile resolves every type reference in the file against the
// combined symbol table of the pool and the staged batch. Names are
// looked up lexically: the innermost enclosing message scope first,
// then each enclosing package component, then the root.
func (s *stage) resolveFile(fd *FileDescriptor) error {
	scopes := packageScopes(fd.pkg)
	for _, md := range fd.messages {
		if err := s.resolveMessage(md, scopes); err != nil {
			return err
		}
	}
	for _, xd := range fd.extensions {
		if err := s.resolveField(xd, scopes); err != nil {
			return err
		}
	}
	for _, sd := range fd.services {
		if err := s.resolveService(sd, scopes); err != nil {
			return err
		}
	}
	return nil
}

func (s *stage) resolveMessage(md *MessageDescriptor, scopes []string) error {
	scopes = append(scopes[:len(scopes):len(scopes)], md.fqn)
	for _, fld := range md.fields {
		if err := s.resolveField(fld, scopes); err != nil {
			return err
		}
	}
	for _, nmd := range md.nested {
		if err := s.resolveMessage(nmd, scopes); err != nil {
			return err
		}
	}
	for _, xd := range md.extensions {
		if err := s.resolveField(xd, scopes); err != nil {
			return err
		}
	}
	return nil
}

func (s *stage) resolveField(fld *FieldDescriptor, scopes []string) error {
	if typeName := fld.proto.GetTypeName(); typeName != "" {
		d, err := s.resolveName(fld.file, scopes, typeName)
		if err != nil {
			return err
		}
		switch target := d.(type) {
		case *MessageDescriptor:
			switch fld.kind {
			case 0:
				fld.kind = dpb.FieldDescriptorProto_TYPE_MESSAGE
			case dpb.FieldDescriptorProto_TYPE_MESSAGE, dpb.FieldDescriptorProto_TYPE_GROUP:
			default:
				return malformed(fld.file.Name(), "field %s declares type %v but references message %s", fld.fqn, fld.kind, target.fqn)
			}
			fld.msgType = target
		case *EnumDescriptor:
			switch fld.kind {
			case 0:
				fld.kind = dpb.FieldDescriptorProto_TYPE_ENUM
			case dpb.FieldDescriptorProto_TYPE_ENUM:
			default:
				return malformed(fld.file.Name(), "field %s declares type %v but references enum %s", fld.fqn, fld.kind, target.fqn)
			}
			fld.enumType = target
		default:
			return malformed(fld.file.Name(), "field %s references %q, which is not a message or enum", fld.fqn, typeName)
		}
	} else {
		switch fld.kind {
		case 0:
			return malformed(fld.file.Name(), "field %s has no type", fld.fqn)
		case dpb.FieldDescriptorProto_TYPE_MESSAGE,
			dpb.FieldDescriptorProto_TYPE_GROUP,
			dpb.FieldDescriptorProto_TYPE_ENUM:
			return malformed(fld.file.Name(), "field %s declares type %v but names no type", fld.fqn, fld.kind)
		}
	}
	if extendee := fld.proto.GetExtendee(); extendee != "" {
		d, err := s.resolveName(fld.file, scopes, extendee)
		if err != nil {
			return err
		}
		owner, ok := d.(*MessageDescriptor)
		if !ok {
			return malformed(fld.file.Name(), "extension %s extends %q, which is not a message", fld.fqn, extendee)
		}
		if !owner.IsExtensionNumber(fld.Number()) {
			return malformed(fld.file.Name(), "extension %s uses tag %d outside the extension ranges of %s", fld.fqn, fld.Number(), owner.fqn)
		}
		fld.owner = owner
		byNumber := s.extensions[owner.fqn]
		if byNumber == nil {
			byNumber = map[int32]*FieldDescriptor{}
			s.extensions[owner.fqn] = byNumber
		}
		if prev := s.pool.extensions[owner.fqn][fld.Number()]; prev != nil {
			return &DuplicateSymbolError{Symbol: fld.fqn, File: fld.file.Name(), ExistingFile: prev.file.Name()}
		}
		if _, ok := byNumber[fld.Number()]; ok {
			return &DuplicateSymbolError{Symbol: fld.fqn, File: fld.file.Name(), ExistingFile: fld.file.Name()}
		}
		byNumber[fld.Number()] = fld
	}
	return nil
}

func (s *stage) resolveService(sd *ServiceDescriptor, scopes []string) error {
	for _, md := range sd.methods {
		in, err := s.resolveMessageName(sd.file, scopes, md.proto.GetInputType(), md.fqn)
		if err != nil {
			return err
		}
		out, err := s.resolveMessageName(sd.file, scopes, md.proto.GetOutputType(), md.fqn)
		if err != nil {
			return err
		}
		md.inType, md.outType = in, out
	}
	return nil
}

func (s *stage) resolveMessageName(fd *FileDescriptor, scopes []string, name, referrer string) (*MessageDescriptor, error) {
	d, err := s.resolveName(fd, scopes, name)
	if err != nil {
		return nil, err
	}
	md, ok := d.(*MessageDescriptor)
	if !ok {
		return nil, malformed(fd.Name(), "%s references %q, which is not a message", referrer, name)
	}
	return md, nil
}

func (s *stage) resolveName(fd *FileDescriptor, scopes []string, name string) (Descriptor, error) {
	if strings.HasPrefix(name, ".") {
		// already fully qualified
		symbol := name[1:]
		if d := s.lookup(symbol); d != nil {
			return d, nil
		}
		return nil, &UnresolvedReferenceError{Symbol: symbol, ReferencingFile: fd.Name()}
	}
	for i := len(scopes) - 1; i >= 0; i-- {
		if d := s.lookup(merge(scopes[i], name)); d != nil {
			return d, nil
		}
	}
	return nil, &UnresolvedReferenceError{Symbol: name, ReferencingFile: fd.Name()}
}

// packageScopes expands package "a.b" into ["", "a", "a.b"], the chain
// of enclosing scopes a relative name may resolve within.
func packageScopes(pkg string) []string {
	scopes := []string{""}
	if pkg == "" {
		return scopes
	}
	for i := 0; i <= len(pkg); i++ {
		if i == len(pkg) || pkg[i] == '.' {
			scopes = append(scopes, pkg[:i])
		}
	}
	return scopes
}
