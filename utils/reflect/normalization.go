/*
   Copyright 2025 The DIRPX Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package reflect

import (
	"math"
	"reflect"
)

// Normalize maps a property value onto a small set of canonical kinds so that
// values published by different code compare equal when they mean the same:
//
//   - every signed integer becomes int64, unsigned integers become int64 when
//     they fit and uint64 otherwise;
//   - float32 becomes float64;
//   - slices and arrays become []any of normalized elements (order kept);
//   - maps with string keys become map[string]any of normalized values;
//   - pointers are dereferenced, nil pointers become nil;
//   - everything else is returned as is.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case int64, string, bool, float64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case float32:
		return float64(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return int64(u)
		}
		return u
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice:
		if rv.IsNil() {
			return []any(nil)
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	}
	return v
}

// Equal reports whether two property values are the same after Normalize.
// Slices and arrays compare element by element in order: [a b] and [b a]
// are different values.
func Equal(a, b any) bool {
	na, nb := Normalize(a), Normalize(b)
	switch x := na.(type) {
	case []any:
		y, ok := nb.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := nb.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	if reflect.TypeOf(na) != reflect.TypeOf(nb) {
		return false
	}
	switch na.(type) {
	case int64, uint64, float64, string, bool:
		return na == nb
	}
	// Structs may hold uncomparable values behind interface fields.
	return reflect.DeepEqual(na, nb)
}

// Clone returns a deep copy of the slices, arrays and maps in v, keeping
// their types. Other values, pointers and structs included, are returned as
// is.
func Clone(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return clone(rv).Interface()
	}
	return v
}

func clone(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(clone(rv.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(clone(rv.Index(i)))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), clone(iter.Value()))
		}
		return out
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		out := reflect.New(rv.Type()).Elem()
		out.Set(clone(rv.Elem()))
		return out
	}
	return rv
}

// Int returns v as an int64 when it holds an integer kind.
func Int(v any) (int64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return x, true
	default:
		return 0, false
	}
}

// Float returns v as a float64 when it holds any numeric kind.
func Float(v any) (float64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// Elements returns the elements of a slice or array value.
func Elements(v any) ([]any, bool) {
	if x, ok := Normalize(v).([]any); ok {
		return x, true
	}
	return nil, false
}

// Rank converts a service.ranking value to an int. Non-integer values and
// values outside the int range rank 0.
func Rank(v any) int {
	i, ok := Int(v)
	if !ok || i > math.MaxInt32 || i < math.MinInt32 {
		return 0
	}
	return int(i)
}
