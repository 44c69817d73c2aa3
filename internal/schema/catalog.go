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
// Package schema holds the read-only catalog of database objects that the
// guardrail consults when checking which tables and views a query touches.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDuplicateObject is returned by NewCatalog when two objects share the
// same (schema, name) identity.
var ErrDuplicateObject = errors.New("duplicate catalog object")

// ObjectKind distinguishes tables from views.
type ObjectKind int

const (
	KindTable ObjectKind = iota
	KindView
)

func (k ObjectKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindView:
		return "view"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ObjectKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ObjectKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "table", "":
		*k = KindTable
	case "view":
		*k = KindView
	default:
		return fmt.Errorf("unknown object kind %q", string(text))
	}
	return nil
}

// Column describes a single column of a table or view.
type Column struct {
	Name       string `yaml:"name" json:"name"`
	DataType   string `yaml:"data_type" json:"data_type"`
	Nullable   bool   `yaml:"nullable" json:"nullable"`
	PrimaryKey bool   `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	MaxLength  *int   `yaml:"max_length,omitempty" json:"max_length,omitempty"`
}

// ForeignKey describes a foreign key owned by a table.
type ForeignKey struct {
	Name       string   `yaml:"name" json:"name"`
	Columns    []string `yaml:"columns" json:"columns"`
	RefSchema  string   `yaml:"ref_schema,omitempty" json:"ref_schema,omitempty"`
	RefTable   string   `yaml:"ref_table" json:"ref_table"`
	RefColumns []string `yaml:"ref_columns" json:"ref_columns"`
}

// Object is a table or view known to the catalog.
type Object struct {
	Kind        ObjectKind   `yaml:"kind" json:"kind"`
	Schema      string       `yaml:"schema,omitempty" json:"schema,omitempty"`
	Name        string       `yaml:"name" json:"name"`
	Columns     []Column     `yaml:"columns,omitempty" json:"columns,omitempty"`
	ForeignKeys []ForeignKey `yaml:"foreign_keys,omitempty" json:"foreign_keys,omitempty"`
}

// QualifiedName returns schema.name, or just name when the object has no schema.
func (o Object) QualifiedName() string {
	if o.Schema == "" {
		return o.Name
	}
	return o.Schema + "." + o.Name
}

// Catalog is an immutable snapshot of the objects in a database.
// It is safe for concurrent use once constructed.
type Catalog struct {
	database      string
	defaultSchema string
	objects       []Object
	byIdentity    map[string]int
	byName        map[string][]int
}

// NewCatalog builds a catalog from the given objects. The objects are copied,
// so later changes to the caller's slices do not affect the catalog.
// defaultSchema is used to resolve unqualified names (e.g. "dbo" or "public").
func NewCatalog(defaultSchema string, objects ...Object) (*Catalog, error) {
	c := &Catalog{
		defaultSchema: defaultSchema,
		objects:       make([]Object, 0, len(objects)),
		byIdentity:    make(map[string]int, len(objects)),
		byName:        make(map[string][]int, len(objects)),
	}
	for _, obj := range objects {
		if strings.TrimSpace(obj.Name) == "" {
			return nil, fmt.Errorf("catalog object with empty name in schema %q", obj.Schema)
		}
		key := identityKey(obj.Schema, obj.Name)
		if _, exists := c.byIdentity[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateObject, obj.QualifiedName())
		}
		idx := len(c.objects)
		c.objects = append(c.objects, copyObject(obj))
		c.byIdentity[key] = idx
		lowerName := strings.ToLower(obj.Name)
		c.byName[lowerName] = append(c.byName[lowerName], idx)
	}
	return c, nil
}

func copyObject(o Object) Object {
	out := o
	if o.Columns != nil {
		out.Columns = make([]Column, len(o.Columns))
	}
	for i, col := range o.Columns {
		out.Columns[i] = col
		if col.MaxLength != nil {
			n := *col.MaxLength
			out.Columns[i].MaxLength = &n
		}
	}
	if o.ForeignKeys != nil {
		out.ForeignKeys = make([]ForeignKey, len(o.ForeignKeys))
	}
	for i, fk := range o.ForeignKeys {
		out.ForeignKeys[i] = fk
		out.ForeignKeys[i].Columns = append([]string(nil), fk.Columns...)
		out.ForeignKeys[i].RefColumns = append([]string(nil), fk.RefColumns...)
	}
	return out
}

func identityKey(schemaName, name string) string {
	return strings.ToLower(schemaName) + "\x00" + strings.ToLower(name)
}

// WithDatabase returns a catalog over the same objects that also resolves
// three-part names whose database part is database. Other three-part names
// and four-part names never resolve.
func (c *Catalog) WithDatabase(database string) *Catalog {
	if c == nil {
		return nil
	}
	out := *c
	out.database = strings.TrimSpace(database)
	return &out
}

// Database returns the database three-part names must refer to, or "".
func (c *Catalog) Database() string {
	if c == nil {
		return ""
	}
	return c.database
}

// DefaultSchema returns the schema used for unqualified names.
func (c *Catalog) DefaultSchema() string {
	return c.defaultSchema
}

// Len returns the number of objects in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.objects)
}

// Objects returns a copy of all objects in catalog order.
func (c *Catalog) Objects() []Object {
	return c.filter(func(Object) bool { return true })
}

// Tables returns a copy of all tables in catalog order.
func (c *Catalog) Tables() []Object {
	return c.filter(func(o Object) bool { return o.Kind == KindTable })
}

// Views returns a copy of all views in catalog order.
func (c *Catalog) Views() []Object {
	return c.filter(func(o Object) bool { return o.Kind == KindView })
}

func (c *Catalog) filter(keep func(Object) bool) []Object {
	if c == nil {
		return nil
	}
	var out []Object
	for _, o := range c.objects {
		if keep(o) {
			out = append(out, copyObject(o))
		}
	}
	return out
}

// Lookup finds an object by its exact (schema, name) identity, ignoring case.
func (c *Catalog) Lookup(schemaName, name string) (Object, bool) {
	if c == nil {
		return Object{}, false
	}
	idx, ok := c.byIdentity[identityKey(schemaName, name)]
	if !ok {
		return Object{}, false
	}
	return copyObject(c.objects[idx]), true
}

// Resolve finds the object a (possibly qualified, possibly quoted) name in a
// query refers to. It accepts name, schema.name and database.schema.name;
// bracket, double-quote and backtick decoration is removed from each part.
// An unqualified name matches the default schema first, then any schema if
// exactly one object carries that name. An empty schema part, as in
// db..name, means the default schema. The database part must match the
// catalog database, so cross-database and linked-server names do not resolve.
func (c *Catalog) Resolve(name string) (Object, bool) {
	if c == nil {
		return Object{}, false
	}
	parts := SplitQualifiedName(name)
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return Object{}, false
	}
	switch len(parts) {
	case 1:
		if obj, ok := c.Lookup(c.defaultSchema, parts[0]); ok {
			return obj, true
		}
		matches := c.byName[strings.ToLower(parts[0])]
		if len(matches) == 1 {
			return copyObject(c.objects[matches[0]]), true
		}
		return Object{}, false
	case 2:
		return c.Lookup(c.schemaOrDefault(parts[0]), parts[1])
	case 3:
		if c.database == "" || !strings.EqualFold(parts[0], c.database) {
			return Object{}, false
		}
		return c.Lookup(c.schemaOrDefault(parts[1]), parts[2])
	default:
		return Object{}, false
	}
}

func (c *Catalog) schemaOrDefault(schemaName string) string {
	if schemaName == "" {
		return c.defaultSchema
	}
	return schemaName
}

// Columns returns the columns of the object that name resolves to.
func (c *Catalog) Columns(name string) ([]Column, bool) {
	obj, ok := c.Resolve(name)
	if !ok {
		return nil, false
	}
	return obj.Columns, true
}

// Names returns the qualified names of all objects in catalog order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.objects))
	for i, o := range c.objects {
		names[i] = o.QualifiedName()
	}
	return names
}

// SuggestSimilar returns up to three catalog names that look like what the
// caller meant: same bare name in another schema first, then names sharing
// a case-insensitive prefix or substring.
func (c *Catalog) SuggestSimilar(name string) []string {
	if c == nil {
		return nil
	}
	parts := SplitQualifiedName(name)
	if len(parts) == 0 {
		return nil
	}
	bare := strings.ToLower(parts[len(parts)-1])

	type candidate struct {
		name  string
		score int
	}
	var candidates []candidate
	for _, o := range c.objects {
		lower := strings.ToLower(o.Name)
		switch {
		case lower == bare:
			candidates = append(candidates, candidate{o.QualifiedName(), 0})
		case strings.HasPrefix(lower, bare) || strings.HasPrefix(bare, lower):
			candidates = append(candidates, candidate{o.QualifiedName(), 1})
		case len(bare) >= 3 && strings.Contains(lower, bare):
			candidates = append(candidates, candidate{o.QualifiedName(), 2})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	var out []string
	for _, cand := range candidates {
		if len(out) == 3 {
			break
		}
		out = append(out, cand.name)
	}
	return out
}

// Describe renders the catalog as compact text suitable for prompting a
// text-to-SQL model.
func (c *Catalog) Describe() string {
	if c == nil || len(c.objects) == 0 {
		return "(no objects)"
	}
	var sb strings.Builder
	for _, o := range c.objects {
		fmt.Fprintf(&sb, "%s %s (", strings.ToUpper(o.Kind.String()), o.QualifiedName())
		for i, col := range o.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(col.Name)
			if col.DataType != "" {
				sb.WriteString(" " + col.DataType)
				if col.MaxLength != nil && *col.MaxLength > 0 {
					fmt.Fprintf(&sb, "(%d)", *col.MaxLength)
				}
			}
			if col.PrimaryKey {
				sb.WriteString(" PK")
			}
			if col.Nullable {
				sb.WriteString(" NULL")
			}
		}
		sb.WriteString(")\n")
		for _, fk := range o.ForeignKeys {
			ref := fk.RefTable
			if fk.RefSchema != "" {
				ref = fk.RefSchema + "." + fk.RefTable
			}
			fmt.Fprintf(&sb, "  FK %s (%s) -> %s (%s)\n", fk.Name,
				strings.Join(fk.Columns, ", "), ref, strings.Join(fk.RefColumns, ", "))
		}
	}
	return sb.String()
}

// SplitQualifiedName splits a dotted object name into its parts, honouring
// [bracket], "double quote" and `backtick` quoting, and strips that
// decoration from each part. Empty parts are kept, so "db..t" has three
// parts; a blank name has none.
func SplitQualifiedName(name string) []string {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	var (
		parts   []string
		current strings.Builder
		closer  rune
	)
	flush := func() {
		parts = append(parts, strings.TrimSpace(current.String()))
		current.Reset()
	}
	for _, r := range name {
		if closer != 0 {
			if r == closer {
				closer = 0
				continue
			}
			current.WriteRune(r)
			continue
		}
		switch r {
		case '[':
			closer = ']'
		case '"':
			closer = '"'
		case '`':
			closer = '`'
		case '.':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return parts
}
