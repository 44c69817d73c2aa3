/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package guardrail

import "strings"

// readKeywords are the statements a candidate may start with.
var readKeywords = []string{"SELECT", "WITH"}

// forbiddenWords are rejected wherever they appear as a word outside string
// literals, quoted identifiers and comments.
var forbiddenWords = map[string]string{
	"INSERT":         "data modification",
	"UPDATE":         "data modification",
	"DELETE":         "data modification",
	"MERGE":          "data modification",
	"INTO":           "SELECT INTO creates a table",
	"DROP":           "schema modification",
	"ALTER":          "schema modification",
	"CREATE":         "schema modification",
	"TRUNCATE":       "data modification",
	"EXEC":           "procedure execution",
	"EXECUTE":        "procedure execution",
	"DECLARE":        "flow control",
	"CURSOR":         "flow control",
	"BEGIN":          "transaction control",
	"COMMIT":         "transaction control",
	"ROLLBACK":       "transaction control",
	"GRANT":          "permission change",
	"REVOKE":         "permission change",
	"OPENROWSET":     "external data access",
	"OPENQUERY":      "external data access",
	"OPENDATASOURCE": "external data access",
	"SET":            "session state change",
	"WAITFOR":        "flow control",
	"SHUTDOWN":       "server control",
	"KILL":           "server control",
	"RECONFIGURE":    "server control",
	"DBCC":           "server control",
	"BACKUP":         "server control",
	"RESTORE":        "server control",
}

// forbiddenPrefixes reject system and extended stored procedure names.
var forbiddenPrefixes = []string{"SP_", "XP_"}

// forbiddenReason reports why a word token is not allowed.
func forbiddenReason(t Token) (string, bool) {
	if t.Kind != TokenWord {
		return "", false
	}
	upper := t.Upper()
	if reason, ok := forbiddenWords[upper]; ok {
		return reason, true
	}
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return "procedure execution", true
		}
	}
	return "", false
}

// reservedWords end a table reference; a word from this set after an object
// name is never its alias.
var reservedWords = map[string]bool{
	"AS": true, "ON": true, "USING": true, "WHERE": true, "GROUP": true,
	"ORDER": true, "HAVING": true, "UNION": true, "EXCEPT": true,
	"INTERSECT": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "FULL": true, "CROSS": true, "OUTER": true,
	"NATURAL": true, "APPLY": true, "STRAIGHT_JOIN": true, "WITH": true,
	"OPTION": true, "FOR": true, "LIMIT": true, "OFFSET": true,
	"FETCH": true, "WINDOW": true, "PIVOT": true, "UNPIVOT": true,
	"TABLESAMPLE": true, "QUALIFY": true, "SELECT": true, "FROM": true,
	"LATERAL": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
}

func isReserved(t Token) bool {
	return t.Kind == TokenWord && reservedWords[t.Upper()]
}

// aggregateFuncs collapse rows when used without OVER.
var aggregateFuncs = map[string]bool{
	"COUNT": true, "COUNT_BIG": true, "SUM": true, "AVG": true, "MIN": true,
	"MAX": true, "STDEV": true, "STDEVP": true, "VAR": true, "VARP": true,
	"STRING_AGG": true, "GROUP_CONCAT": true, "ARRAY_AGG": true,
	"JSON_AGG": true, "BOOL_AND": true, "BOOL_OR": true, "CHECKSUM_AGG": true,
}
