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

package interceptor

import (
	"path"
	"reflect"
	"strings"
	"sync"

	"dirpx.dev/bindx/apis"
)

// typeNameCache caches derived names by dynamic type.
var typeNameCache sync.Map // key: reflect.Type, val: string

// Name returns a readable name for an interceptor, used in logs and metric
// labels. apis.Namer wins; otherwise the name is derived from the dynamic
// type as "pkg.Type".
func Name(v any) string {
	if v == nil {
		return ""
	}
	if n, ok := v.(apis.Namer); ok {
		if s := n.Name(); s != "" {
			return s
		}
	}
	t := reflect.TypeOf(v)
	if s, ok := typeNameCache.Load(t); ok {
		return s.(string)
	}
	base := t
	for base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	name := stripTypeParams(base.Name())
	if name == "" {
		name = base.String()
	} else if p := base.PkgPath(); p != "" {
		name = path.Base(p) + "." + name
	}
	typeNameCache.Store(t, name)
	return name
}

// stripTypeParams removes generic type instantiation suffix: "T[int,string]" -> "T".
func stripTypeParams(s string) string {
	if i := strings.IndexByte(s, '['); i >= 0 {
		return s[:i]
	}
	return s
}
