package domain

// Field is one record field. Value holds the scalar form, Values the
// sequence form; a search document may carry either.
type Field struct {
	Value  string
	Values []string
}

// Record is the resolved representation of one content object.
type Record struct {
	ID     string
	Fields map[string]Field
}

// Scalar returns the scalar value of a field, falling back to the first
// element of its sequence value. Missing fields yield "".
func (r Record) Scalar(name string) string {
	if name == "" || r.Fields == nil {
		return ""
	}

	field, ok := r.Fields[name]
	if !ok {
		return ""
	}
	if field.Value != "" {
		return field.Value
	}
	if len(field.Values) > 0 {
		return field.Values[0]
	}
	return ""
}
