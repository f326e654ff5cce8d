package desc

import (
	"fmt"
	"math"
	"strconv"

	dpb "google.golang.org/protobuf/types/descriptorpb"
)

// DefaultValue returns the value a singular field takes when it is not
// present: the declared proto2 default if there is one, otherwise the
// zero value for the field's type. The concrete type follows the
// field's type: bool, int32, int64, uint32, uint64, float32, float64,
// string, []byte, or int32 for enums. Repeated, map, message, and
// group fields have no scalar default and return nil.
func (fd *FieldDescriptor) DefaultValue() interface{} {
	if fd.IsRepeated() {
		return nil
	}
	switch fd.kind {
	case dpb.FieldDescriptorProto_TYPE_MESSAGE, dpb.FieldDescriptorProto_TYPE_GROUP:
		return nil
	}
	if fd.proto.DefaultValue != nil {
		if v, err := parseDefaultValue(fd, fd.proto.GetDefaultValue()); err == nil {
			return v
		}
		// a declared default that fails to parse falls back to the zero
		// value rather than poisoning every read
	}
	return zeroValue(fd)
}

func parseDefaultValue(fd *FieldDescriptor, text string) (interface{}, error) {
	switch fd.kind {
	case dpb.FieldDescriptorProto_TYPE_BOOL:
		switch text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("desc: bad bool default %q", text)

	case dpb.FieldDescriptorProto_TYPE_INT32,
		dpb.FieldDescriptorProto_TYPE_SINT32,
		dpb.FieldDescriptorProto_TYPE_SFIXED32:
		v, err := strconv.ParseInt(text, 10, 32)
		return int32(v), err

	case dpb.FieldDescriptorProto_TYPE_INT64,
		dpb.FieldDescriptorProto_TYPE_SINT64,
		dpb.FieldDescriptorProto_TYPE_SFIXED64:
		return strconv.ParseInt(text, 10, 64)

	case dpb.FieldDescriptorProto_TYPE_UINT32,
		dpb.FieldDescriptorProto_TYPE_FIXED32:
		v, err := strconv.ParseUint(text, 10, 32)
		return uint32(v), err

	case dpb.FieldDescriptorProto_TYPE_UINT64,
		dpb.FieldDescriptorProto_TYPE_FIXED64:
		return strconv.ParseUint(text, 10, 64)

	case dpb.FieldDescriptorProto_TYPE_FLOAT:
		v, err := parseDefaultFloat(text, 32)
		return float32(v), err

	case dpb.FieldDescriptorProto_TYPE_DOUBLE:
		return parseDefaultFloat(text, 64)

	case dpb.FieldDescriptorProto_TYPE_STRING:
		// string defaults are stored verbatim
		return text, nil

	case dpb.FieldDescriptorProto_TYPE_BYTES:
		// bytes defaults are stored with C-style escapes
		return unescapeBytesDefault(text)

	case dpb.FieldDescriptorProto_TYPE_ENUM:
		if fd.enumType != nil {
			if vd := fd.enumType.FindValueByName(text); vd != nil {
				return vd.Number(), nil
			}
		}
		return nil, fmt.Errorf("desc: bad enum default %q", text)

	default:
		return nil, fmt.Errorf("desc: type %v has no scalar default", fd.kind)
	}
}

// parseDefaultFloat accepts the spellings schema compilers emit for
// non-finite defaults in addition to ordinary decimal literals.
func parseDefaultFloat(text string, bits int) (float64, error) {
	switch text {
	case "inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(text, bits)
}

func unescapeBytesDefault(text string) ([]byte, error) {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(text) {
			return nil, fmt.Errorf("desc: trailing backslash in bytes default")
		}
		switch e := text[i]; e {
		case 'a':
			out = append(out, '\a')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'v':
			out = append(out, '\v')
		case '\\', '\'', '"', '?':
			out = append(out, e)
		case 'x', 'X':
			if i+2 >= len(text) {
				return nil, fmt.Errorf("desc: truncated hex escape in bytes default")
			}
			v, err := strconv.ParseUint(text[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("desc: bad hex escape in bytes default: %v", err)
			}
			out = append(out, byte(v))
			i += 2
		case '0', '1', '2', '3', '4', '5', '6', '7':
			end := i + 1
			for end < len(text) && end < i+3 && text[end] >= '0' && text[end] <= '7' {
				end++
			}
			v, err := strconv.ParseUint(text[i:end], 8, 8)
			if err != nil {
				return nil, fmt.Errorf("desc: bad octal escape in bytes default: %v", err)
			}
			out = append(out, byte(v))
			i = end - 1
		default:
			return nil, fmt.Errorf("desc: unknown escape \\%c in bytes default", e)
		}
	}
	return out, nil
}

func zeroValue(fd *FieldDescriptor) interface{} {
	switch fd.kind {
	case dpb.FieldDescriptorProto_TYPE_BOOL:
		return false
	case dpb.FieldDescriptorProto_TYPE_INT32,
		dpb.FieldDescriptorProto_TYPE_SINT32,
		dpb.FieldDescriptorProto_TYPE_SFIXED32:
		return int32(0)
	case dpb.FieldDescriptorProto_TYPE_INT64,
		dpb.FieldDescriptorProto_TYPE_SINT64,
		dpb.FieldDescriptorProto_TYPE_SFIXED64:
		return int64(0)
	case dpb.FieldDescriptorProto_TYPE_UINT32,
		dpb.FieldDescriptorProto_TYPE_FIXED32:
		return uint32(0)
	case dpb.FieldDescriptorProto_TYPE_UINT64,
		dpb.FieldDescriptorProto_TYPE_FIXED64:
		return uint64(0)
	case dpb.FieldDescriptorProto_TYPE_FLOAT:
		return float32(0)
	case dpb.FieldDescriptorProto_TYPE_DOUBLE:
		return float64(0)
	case dpb.FieldDescriptorProto_TYPE_STRING:
		return ""
	case dpb.FieldDescriptorProto_TYPE_BYTES:
		return []byte(nil)
	case dpb.FieldDescriptorProto_TYPE_ENUM:
		// the zero value is the first declared value, which proto3
		// requires to be zero
		if fd.enumType != nil && len(fd.enumType.values) > 0 {
			return fd.enumType.values[0].Number()
		}
		return int32(0)
	default:
		return nil
	}
}
