/*
 *	Copyright 2024 The GoMIA Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package data

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ExpandTemplate substitutes "{key}" placeholders in a path template with the
// corresponding values. "{{" and "}}" escape literal braces. Unknown keys and
// unbalanced braces are errors.
func ExpandTemplate(template string, values map[string]any) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(template); {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				sb.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(template[i:], '}')
			if end < 0 {
				return "", errors.Errorf("unbalanced '{' at offset %d in template %q", i, template)
			}
			key := template[i+1 : i+end]
			if key == "" {
				return "", errors.Errorf("empty placeholder at offset %d in template %q", i, template)
			}
			value, ok := values[key]
			if !ok {
				return "", errors.Errorf("template %q references unknown key %q", template, key)
			}
			sb.WriteString(fmt.Sprint(value))
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				sb.WriteByte('}')
				i += 2
				continue
			}
			return "", errors.Errorf("unbalanced '}' at offset %d in template %q", i, template)
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), nil
}
