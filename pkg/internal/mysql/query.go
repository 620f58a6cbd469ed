/*
Copyright 2026 Pressinfra SRL

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

package mysql

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Query contains a escaped query string with variables marked with a question mark (?) and a slice
// of positional arguments
type Query struct {
	escapedQuery string
	args         []interface{}
}

// NewQuery returns a new Query object
func NewQuery(q string, args ...interface{}) Query {
	if q == "" {
		panic("unexpected empty query")
	}

	if c := strings.Count(q, "?"); c != len(args) {
		panic(fmt.Sprintf("query %q has %d placeholders but %d args", q, c, len(args)))
	}

	return Query{
		escapedQuery: strings.TrimSuffix(q, ";"),
		args:         args,
	}
}

// String returns the query with placeholders, safe to log
func (q Query) String() string {
	return q.escapedQuery
}

// Args returns the positional arguments of the query
func (q Query) Args() []interface{} {
	return q.args
}

// RunSQL renders the query as a MySQL Shell python call. Arguments are
// bound by the shell, they are never interpolated in the query text.
func (q Query) RunSQL() (string, error) {
	query, err := json.Marshal(q.escapedQuery)
	if err != nil {
		return "", err
	}

	args := q.args
	if args == nil {
		args = []interface{}{}
	}
	for _, a := range args {
		switch a.(type) {
		case string, int, int64:
		default:
			return "", fmt.Errorf("unsupported query argument type %T", a)
		}
	}
	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("session.run_sql(%s, %s)", query, encodedArgs), nil
}

// RunSQLScript renders the queries as consecutive MySQL Shell calls. The
// results are discarded, SqlResult objects are not JSON serializable.
func RunSQLScript(queries ...Query) (string, error) {
	lines := []string{}
	for _, q := range queries {
		call, err := q.RunSQL()
		if err != nil {
			return "", err
		}
		lines = append(lines, call)
	}
	return strings.Join(lines, "\n"), nil
}

func escapeID(id string) string {
	if id == "*" {
		return id
	}

	// don't allow using ` in id name
	id = strings.ReplaceAll(id, "`", "")

	return fmt.Sprintf("`%s`", id)
}
