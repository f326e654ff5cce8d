package desc

// WellKnownType identifies the fixed set of standard schema types that
// get special-cased JSON representations. The binary wire format never
// consults this tag.
type WellKnownType int

const (
	WellKnownNone WellKnownType = iota
	WellKnownAny
	WellKnownDuration
	WellKnownTimestamp
	WellKnownStruct
	WellKnownValue
	WellKnownListValue
	WellKnownEmpty
	WellKnownFieldMask
	// WellKnownWrapper covers the nine scalar wrapper messages
	// (google.protobuf.DoubleValue and friends). The wrapped scalar is
	// always field number 1.
	WellKnownWrapper
)

var wellKnownTypes = map[string]WellKnownType{
	"google.protobuf.Any":         WellKnownAny,
	"google.protobuf.Duration":    WellKnownDuration,
	"google.protobuf.Timestamp":   WellKnownTimestamp,
	"google.protobuf.Struct":      WellKnownStruct,
	"google.protobuf.Value":       WellKnownValue,
	"google.protobuf.ListValue":   WellKnownListValue,
	"google.protobuf.Empty":       WellKnownEmpty,
	"google.protobuf.FieldMask":   WellKnownFieldMask,
	"google.protobuf.DoubleValue": WellKnownWrapper,
	"google.protobuf.FloatValue":  WellKnownWrapper,
	"google.protobuf.Int64Value":  WellKnownWrapper,
	"google.protobuf.UInt64Value": WellKnownWrapper,
	"google.protobuf.Int32Value":  WellKnownWrapper,
	"google.protobuf.UInt32Value": WellKnownWrapper,
	"google.protobuf.BoolValue":   WellKnownWrapper,
	"google.protobuf.StringValue": WellKnownWrapper,
	"google.protobuf.BytesValue":  WellKnownWrapper,
}

func (w WellKnownType) String() string {
	switch w {
	case WellKnownAny:
		return "google.protobuf.Any"
	case WellKnownDuration:
		return "google.protobuf.Duration"
	case WellKnownTimestamp:
		return "google.protobuf.Timestamp"
	case WellKnownStruct:
		return "google.protobuf.Struct"
	case WellKnownValue:
		return "google.protobuf.Value"
	case WellKnownListValue:
		return "google.protobuf.ListValue"
	case WellKnownEmpty:
		return "google.protobuf.Empty"
	case WellKnownFieldMask:
		return "google.protobuf.FieldMask"
	case WellKnownWrapper:
		return "wrapper"
	default:
		return "none"
	}
}
