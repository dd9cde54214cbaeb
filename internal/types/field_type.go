package types

// FieldType is the backend's column type for a field. Values outside the
// known set are preserved verbatim so newer backends keep round-tripping.
type FieldType string

const (
	FieldChar     FieldType = "char"
	FieldText     FieldType = "text"
	FieldInteger  FieldType = "integer"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
	FieldEmail    FieldType = "email"
	FieldURL      FieldType = "url"
	FieldImage    FieldType = "image"
	FieldFile     FieldType = "file"
	FieldDecimal  FieldType = "decimal"
	FieldFloat    FieldType = "float"
	FieldJSON     FieldType = "json"
)

// KnownFieldTypes lists the field types the canvas renders specifically.
var KnownFieldTypes = []FieldType{
	FieldChar, FieldText, FieldInteger, FieldBoolean, FieldDate, FieldDateTime,
	FieldEmail, FieldURL, FieldImage, FieldFile, FieldDecimal, FieldFloat, FieldJSON,
}

// Known reports whether ft is part of the fixed enumeration.
func (ft FieldType) Known() bool {
	for _, k := range KnownFieldTypes {
		if ft == k {
			return true
		}
	}
	return false
}

// Label returns the display name shown on a field row. Unknown types render
// generically.
func (ft FieldType) Label() string {
	switch ft {
	case FieldChar:
		return "String"
	case FieldText:
		return "Text"
	case FieldInteger:
		return "Integer"
	case FieldBoolean:
		return "Boolean"
	case FieldDate:
		return "Date"
	case FieldDateTime:
		return "DateTime"
	case FieldEmail:
		return "Email"
	case FieldURL:
		return "URL"
	case FieldImage:
		return "Image"
	case FieldFile:
		return "File"
	case FieldDecimal:
		return "Decimal"
	case FieldFloat:
		return "Float"
	case FieldJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}
