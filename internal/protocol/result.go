package protocol

// Result is a decoded packet: field name to string, int or float64 value.
type Result map[string]any

// Merge copies every field of others into r, later values winning, and
// returns r.
func (r Result) Merge(others ...Result) Result {
	for _, o := range others {
		for k, v := range o {
			r[k] = v
		}
	}
	return r
}

// Int returns the integer field k.
func (r Result) Int(k string) (int, bool) {
	v, ok := r[k].(int)
	return v, ok
}

// Float returns field k as a float64, widening integer fields.
func (r Result) Float(k string) (float64, bool) {
	switch v := r[k].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Text returns the string field k.
func (r Result) Text(k string) (string, bool) {
	v, ok := r[k].(string)
	return v, ok
}
